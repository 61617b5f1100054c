package main

import (
	"flag"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// A stand-in for the provider's payment lookup. Payments are registered with
// PUT /v1/payments/:id and served back on GET.
func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	var (
		mu       sync.RWMutex
		payments = map[string]gin.H{}
	)

	r := gin.Default()

	r.PUT("/v1/payments/:id", func(c *gin.Context) {
		var body gin.H
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id := c.Param("id")
		body["id"] = id
		if _, ok := body["status"]; !ok {
			body["status"] = "approved"
		}
		if _, ok := body["currency_id"]; !ok {
			body["currency_id"] = "BRL"
		}
		if _, ok := body["date_created"]; !ok {
			body["date_created"] = time.Now().Format(time.RFC3339)
		}

		mu.Lock()
		payments[id] = body
		mu.Unlock()
		c.JSON(http.StatusOK, body)
	})

	r.GET("/v1/payments/:id", func(c *gin.Context) {
		if !strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "missing token"})
			return
		}
		mu.RLock()
		p, ok := payments[c.Param("id")]
		mu.RUnlock()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "payment not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	log.Printf("mock provider on %s", *addr)
	if err := r.Run(*addr); err != nil {
		log.Fatal(err)
	}
}
