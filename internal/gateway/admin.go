package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/simlink/internal/auth"
	"github.com/danmuck/simlink/internal/comm"
	"github.com/danmuck/simlink/internal/observability"
	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Snapshot is the read-only view the dispatch loop publishes once per
// tick for the admin surface.
type Snapshot struct {
	GatewayID string                     `json:"gateway_id"`
	Pacing    Pacing                     `json:"pacing"`
	Phase     string                     `json:"phase"`
	Frame     int64                      `json:"frame"`
	Clients   int                        `json:"clients"`
	Objects   []message.ObjectDescriptor `json:"objects"`
	Entities  map[int32][]comm.SlotView  `json:"-"`
	Telemetry []message.TelemetryRecord  `json:"telemetry"`
	Dropped   uint64                     `json:"telemetry_dropped"`
	Published time.Time                  `json:"published"`
}

// Snapshot returns the most recently published view.
func (s *Service) Snapshot() *Snapshot {
	return s.snap.Load()
}

func (s *Service) publishSnapshot() {
	frameNo := s.sim.Frame()
	observability.SetFrame(s.cfg.GatewayID, frameNo)
	if prev := s.snap.Load(); !s.dirty && prev != nil && prev.Frame == frameNo {
		return
	}
	s.dirty = false
	objs := s.sim.DynamicObjects()
	objs = append(objs, s.sim.TrafficControls()...)
	objs = append(objs, s.sim.InstancedObjects()...)
	entities := make(map[int32][]comm.SlotView)
	for _, o := range objs {
		if o.Category != message.CategoryVehicle {
			continue
		}
		if board, ok := s.sim.Entity(o.OwnerID); ok {
			entities[o.OwnerID] = board.Snapshot()
		}
	}
	telemetry := make([]message.TelemetryRecord, 0, len(s.latest))
	for _, rec := range s.latest {
		telemetry = append(telemetry, rec)
	}
	sort.Slice(telemetry, func(i, j int) bool { return telemetry[i].Name < telemetry[j].Name })
	s.snap.Store(&Snapshot{
		GatewayID: s.cfg.GatewayID,
		Pacing:    s.cfg.Pacing,
		Phase:     s.phase.String(),
		Frame:     frameNo,
		Clients:   len(s.clients),
		Objects:   objs,
		Entities:  entities,
		Telemetry: telemetry,
		Dropped:   s.acc.Dropped(),
		Published: time.Now(),
	})
}

// AdminRouter builds the admin HTTP surface. Handlers read only the
// published snapshot.
func (s *Service) AdminRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminAccess(s.cfg.GatewayID, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"gateway": s.cfg.GatewayID,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		if !s.Ready() {
			status = http.StatusServiceUnavailable
		}
		snap := s.Snapshot()
		c.JSON(status, gin.H{
			"ready":   s.Ready(),
			"gateway": s.cfg.GatewayID,
			"phase":   snap.Phase,
			"frame":   snap.Frame,
			"clients": snap.Clients,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	data := r.Group("/")
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		data.Use(auth.RequireToken(auth.StaticToken{Token: token}))
	}
	data.GET("/objects", func(c *gin.Context) {
		snap := s.Snapshot()
		objs := snap.Objects
		if objs == nil {
			objs = []message.ObjectDescriptor{}
		}
		c.JSON(http.StatusOK, gin.H{"frame": snap.Frame, "objects": objs})
	})
	data.GET("/entities/:id", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "entity id must be an integer"})
			return
		}
		snap := s.Snapshot()
		slots, ok := snap.Entities[int32(id)]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrUnknownEntity.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"frame": snap.Frame, "id": id, "slots": slots})
	})
	data.GET("/telemetry", func(c *gin.Context) {
		snap := s.Snapshot()
		recs := snap.Telemetry
		if recs == nil {
			recs = []message.TelemetryRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"records": recs, "dropped": snap.Dropped})
	})
	return r
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info().Msgf("gateway.admin listening addr=%q", ln.Addr().String())
	srv := &http.Server{Handler: s.AdminRouter(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
