package api

import (
	"encoding/json"
	"net/http"

	"github.com/MikelCalvo/TaintedBySatoshi/internal/query"
	"github.com/MikelCalvo/TaintedBySatoshi/internal/scanner"
	"github.com/gin-gonic/gin"
)

// SyncStatusProvider is the subset of scanner.Scanner the HTTP surface
// reads for /sync-status.
type SyncStatusProvider interface {
	State() scanner.State
	CurrentHeight() int64
	ChainTip() int64
}

// NewServer builds the narrow HTTP surface named in §6: exactly
// /check/<address>, /sync-status, and the /sync-status/stream scan-event
// websocket (SPEC_FULL.md §3.4). Deliberately without CORS, auth, or
// rate-limit middleware — those are the external HTTP layer's concern,
// outside this specification's Non-goals boundary; a deployment fronting
// this with a reverse proxy is expected to add them there.
//
// NewServer wires the Query Service, the scanner's read-only status
// accessors, and the scan-event hub into a gin engine.
func NewServer(q *query.Service, scan SyncStatusProvider, hub *Hub) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/check/:address", checkHandler(q))
	r.GET("/sync-status", syncStatusHandler(scan))
	r.GET("/sync-status/stream", hub.Subscribe)

	return r
}

type checkResponse struct {
	Address string `json:"address"`
	Status  string `json:"status"`
	Note    string `json:"note,omitempty"`

	Degree       uint32          `json:"degree,omitempty"`
	Path         json.RawMessage `json:"path,omitempty"`
	Transactions json.RawMessage `json:"transactions,omitempty"`
}

func checkHandler(q *query.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.Param("address")
		if address == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
			return
		}

		result, err := q.Check(c.Request.Context(), address)
		if err != nil {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
			return
		}

		resp := checkResponse{Address: address}
		switch result.Kind {
		case query.KindSeed:
			resp.Status = "is_seed"
			resp.Note = result.Note
		case query.KindTainted:
			resp.Status = "tainted"
			resp.Degree = result.Degree
			if b, err := json.Marshal(result.Path); err == nil {
				resp.Path = b
			}
			if b, err := json.Marshal(result.Transactions); err == nil {
				resp.Transactions = b
			}
		default:
			resp.Status = "unconnected"
		}
		c.JSON(http.StatusOK, resp)
	}
}

func syncStatusHandler(scan SyncStatusProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		tip := scan.ChainTip()
		current := scan.CurrentHeight()
		c.JSON(http.StatusOK, gin.H{
			"state":          scan.State().String(),
			"current_height": current,
			"chain_tip":      tip,
			"blocks_behind":  tip - current,
		})
	}
}
