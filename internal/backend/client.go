// Package backend is the typed REST client for the picking backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"partialpick/internal/models"
)

const defaultBaseURL = "http://localhost:8080"

// PickRequest is the body of POST /picks.
type PickRequest struct {
	RunNo         string              `json:"runNo"`
	RowNum        int                 `json:"rowNum"`
	LineID        int                 `json:"lineId"`
	LotNo         string              `json:"lotNo"`
	BinNo         string              `json:"binNo"`
	Weight        float64             `json:"weight"`
	WeightSource  models.WeightSource `json:"weightSource"`
	WorkstationID string              `json:"workstationId"`
	ClientRef     string              `json:"clientRef,omitempty"`
}

// UnpickResponse is the body returned by DELETE /picks/...: the line with
// its quantity zeroed but its audit fields preserved.
type UnpickResponse struct {
	RunNo       string     `json:"runNo"`
	RowNum      int        `json:"rowNum"`
	LineID      int        `json:"lineId"`
	PickedQty   float64    `json:"pickedQty"`
	Status      string     `json:"status"`
	PickingDate *time.Time `json:"pickingDate,omitempty"`
}

// CompleteResponse is the body returned by POST /run/:runNo/complete.
type CompleteResponse struct {
	RunNo    string `json:"runNo"`
	PalletID string `json:"palletId"`
	Status   string `json:"status"`
}

// Client handles API requests to the picking backend.
type Client struct {
	httpClient *http.Client
	BaseURL    string
}

// NewClient creates a client for the given base URL. An empty baseURL falls
// back to the PICKING_API_URL environment variable, then to localhost.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("PICKING_API_URL")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    baseURL,
	}
}

// CheckHealth checks if the backend is up and running.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status code: %d", resp.StatusCode)
	}
	return nil
}

// GetRun retrieves the run header with its ordered batch row numbers.
func (c *Client) GetRun(ctx context.Context, runNo string) (*models.RunHeader, error) {
	var run models.RunHeader
	err := c.getJSON(ctx, fmt.Sprintf("%s/run/%s", c.BaseURL, url.PathEscape(runNo)), &run)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetBatchItems retrieves the batch item list for one batch of a run.
func (c *Client) GetBatchItems(ctx context.Context, runNo string, rowNum int) ([]models.BatchItem, error) {
	var items []models.BatchItem
	u := fmt.Sprintf("%s/run/%s/batches/%d/items", c.BaseURL, url.PathEscape(runNo), rowNum)
	if err := c.getJSON(ctx, u, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetAvailableLots retrieves the FEFO-ordered lot candidates for an item,
// sized to at least minQty.
func (c *Client) GetAvailableLots(ctx context.Context, itemKey, runNo string, rowNum int, minQty float64) ([]models.LotCandidate, error) {
	q := url.Values{}
	q.Set("itemKey", itemKey)
	q.Set("runNo", runNo)
	q.Set("rowNum", fmt.Sprintf("%d", rowNum))
	q.Set("minQty", fmt.Sprintf("%g", minQty))

	var lots []models.LotCandidate
	if err := c.getJSON(ctx, c.BaseURL+"/lots/available?"+q.Encode(), &lots); err != nil {
		return nil, err
	}
	return lots, nil
}

// CreatePick commits a pick. The backend applies all four phases (lot
// allocation, quantity update, ledger entry, lot commitment) in one
// transaction; the response is a populated PickRecord or a typed error with
// no partial state change.
func (c *Client) CreatePick(ctx context.Context, reqBody PickRequest) (*models.PickRecord, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/picks", bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}

	var record models.PickRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeletePick reverses a committed pick. The quantity returns to zero while
// the line's status and picking date are preserved for audit.
func (c *Client) DeletePick(ctx context.Context, runNo string, rowNum, lineID int, workstationID string) (*UnpickResponse, error) {
	body, err := json.Marshal(map[string]string{"workstationId": workstationID})
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/picks/%s/%d/%d", c.BaseURL, url.PathEscape(runNo), rowNum, lineID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPickNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var unpick UnpickResponse
	if err := json.NewDecoder(resp.Body).Decode(&unpick); err != nil {
		return nil, err
	}
	return &unpick, nil
}

// CompleteRun marks the run complete server-side and returns the pallet
// assignment. The no-unpicked-items precondition is enforced by the backend.
func (c *Client) CompleteRun(ctx context.Context, runNo, workstationID string) (*CompleteResponse, error) {
	body, err := json.Marshal(map[string]string{"workstationId": workstationID})
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/run/%s/complete", c.BaseURL, url.PathEscape(runNo))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var complete CompleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&complete); err != nil {
		return nil, err
	}
	return &complete, nil
}

// getJSON performs a GET and decodes the body, mapping backend failures to
// the typed error taxonomy.
func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError maps a non-success response to the error taxonomy: 404 is
// ErrNotFound, 400 splits into tolerance and business errors by code,
// anything else keeps the raw body for the log.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		var body errorBody
		if err := json.Unmarshal(raw, &body); err == nil {
			if body.Code == CodeTolerance {
				return &ToleranceError{Weight: body.Weight, Low: body.Low, High: body.High}
			}
			if body.Error != "" {
				return &BusinessError{Message: body.Error}
			}
		}
		return &BusinessError{Message: string(raw)}
	default:
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(raw))
	}
}
