package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sshfleet/sshfleet/internal/domain"
	"github.com/sshfleet/sshfleet/internal/domain/sverr"
	"github.com/sshfleet/sshfleet/internal/eventbus"
	"github.com/sshfleet/sshfleet/internal/fleet"
	"github.com/sshfleet/sshfleet/internal/metricsstore"
)

type handler struct {
	manager *fleet.Manager
	bus     *eventbus.Bus
	log     *zap.Logger
}

// hostRequest is the wire shape accepted by POST /hosts and PUT
// /hosts/:name, validated through gin's struct-tag binding before it is
// converted to a domain.HostSpec.
type hostRequest struct {
	Name     string `json:"name" binding:"required"`
	Host     string `json:"host" binding:"required"`
	Port     int    `json:"port"`
	Username string `json:"username" binding:"required"`

	Auth struct {
		Type       string `json:"type" binding:"required,oneof=key password"`
		KeyPath    string `json:"key_path"`
		Passphrase string `json:"passphrase"`
		Password   string `json:"password"`
	} `json:"auth" binding:"required"`

	Command     string            `json:"command" binding:"required"`
	WorkingDir  string            `json:"working_dir"`
	Env         map[string]string `json:"env"`
	PreCommand  string            `json:"pre_command"`
	StopCommand string            `json:"stop_command"`

	ProcessMatchRegex   string `json:"process_match_regex"`
	RestartDelaySeconds int    `json:"restart_delay_seconds"`
	Enabled             bool   `json:"enabled"`

	HealthCheck struct {
		Enabled bool `json:"enabled"`
		CPU     struct {
			Enabled      bool    `json:"enabled"`
			ThresholdPct float64 `json:"threshold_pct"`
			DurationS    int     `json:"duration_s"`
		} `json:"cpu"`
		GPU struct {
			Enabled      bool    `json:"enabled"`
			ThresholdPct float64 `json:"threshold_pct"`
			DurationS    int     `json:"duration_s"`
		} `json:"gpu"`
	} `json:"health_check"`
}

func (r hostRequest) toSpec() domain.HostSpec {
	return domain.HostSpec{
		Name:     r.Name,
		Host:     r.Host,
		Port:     r.Port,
		Username: r.Username,
		Auth: domain.Auth{
			Type:       domain.AuthType(r.Auth.Type),
			KeyPath:    r.Auth.KeyPath,
			Passphrase: r.Auth.Passphrase,
			Password:   r.Auth.Password,
		},
		Command:             r.Command,
		WorkingDir:          r.WorkingDir,
		Env:                 r.Env,
		PreCommand:          r.PreCommand,
		StopCommand:         r.StopCommand,
		ProcessMatchRegex:   r.ProcessMatchRegex,
		RestartDelaySeconds: r.RestartDelaySeconds,
		Enabled:             r.Enabled,
		HealthCheck: domain.HealthCheck{
			Enabled: r.HealthCheck.Enabled,
			CPU: domain.HealthCheckRule{
				Enabled:      r.HealthCheck.CPU.Enabled,
				ThresholdPct: r.HealthCheck.CPU.ThresholdPct,
				DurationS:    r.HealthCheck.CPU.DurationS,
			},
			GPU: domain.HealthCheckRule{
				Enabled:      r.HealthCheck.GPU.Enabled,
				ThresholdPct: r.HealthCheck.GPU.ThresholdPct,
				DurationS:    r.HealthCheck.GPU.DurationS,
			},
		},
	}
}

func (h *handler) listHosts(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.List())
}

func (h *handler) addHost(c *gin.Context) {
	var req hostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.manager.Add(c.Request.Context(), req.toSpec()); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *handler) editHost(c *gin.Context) {
	name := c.Param("name")
	var req hostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.manager.Edit(name, req.toSpec()); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handler) deleteHost(c *gin.Context) {
	if err := h.manager.Delete(c.Param("name")); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) startHost(c *gin.Context)        { h.forward(c, h.manager.Start) }
func (h *handler) stopHost(c *gin.Context)         { h.forward(c, h.manager.Stop) }
func (h *handler) restartHost(c *gin.Context)      { h.forward(c, h.manager.Restart) }
func (h *handler) forceRestartHost(c *gin.Context) { h.forward(c, h.manager.ForceRestart) }

func (h *handler) forward(c *gin.Context, op func(string) error) {
	if err := op(c.Param("name")); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handler) startAll(c *gin.Context) {
	h.manager.StartAll(c.Request.Context())
	c.Status(http.StatusAccepted)
}

func (h *handler) stopAll(c *gin.Context) {
	h.manager.StopAll()
	c.Status(http.StatusAccepted)
}

func (h *handler) testConnection(c *gin.Context) {
	report, err := h.manager.TestConnection(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) hostLogs(c *gin.Context) {
	n := 200
	if q := c.Query("lines"); q != "" {
		if parsed, ok := parsePositiveInt(q); ok {
			n = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"lines": h.manager.Tail(c.Param("name"), n)})
}

func (h *handler) hostMetrics(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.manager.Get(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such host: " + name})
		return
	}

	field := metricsstore.Field(c.DefaultQuery("field", string(metricsstore.FieldCPU)))
	seconds := 300
	if q := c.Query("seconds"); q != "" {
		if parsed, ok := parsePositiveInt(q); ok {
			seconds = parsed
		}
	}

	store := h.manager.Deps().Store
	if store == nil {
		c.JSON(http.StatusOK, gin.H{"points": []metricsstore.Point{}})
		return
	}

	points, err := store.Fetch(c.Request.Context(), name, field, time.Duration(seconds)*time.Second)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

func parsePositiveInt(s string) (int, bool) {
	var n int
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}

// writeDomainError maps the supervisor's internal error taxonomy onto HTTP
// status codes: precondition failures (bad input, unknown host) are client
// errors, everything else is a server-side failure reaching the API layer
// unexpectedly.
func writeDomainError(c *gin.Context, err error) {
	var precond *sverr.PreconditionErr
	if errors.As(err, &precond) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
