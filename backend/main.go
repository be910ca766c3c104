package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dbPath := flag.String("db", "picking.db", "path to the SQLite database")
	flag.Parse()

	if err := InitDB(*dbPath); err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	defer CloseDB()

	seedDefaultData(db)

	router := setupRouter()
	log.Printf("picking backend listening on %s", *addr)
	if err := router.Run(*addr); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// setupRouter wires the picking API routes.
func setupRouter() *gin.Engine {
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/run/:runNo", GetRun)
	router.GET("/run/:runNo/batches/:rowNum/items", GetBatchItems)
	router.POST("/run/:runNo/complete", CompleteRun)

	router.GET("/lots/available", GetAvailableLots)

	router.POST("/picks", CreatePick)
	router.DELETE("/picks/:runNo/:rowNum/:lineId", DeletePick)

	return router
}
