package registry

import (
	"context"
	"time"

	"github.com/jllopis/hive/pkg/core"
)

// HealthChecker reports the health of one server: unhealthy when it is not
// connected or its probe fails, degraded when it is connected but exposes
// no tools.
func (r *Registry) HealthChecker(server string) core.HealthChecker {
	return core.HealthCheckFunc(func(ctx context.Context) core.HealthResult {
		idx := r.current()
		result := core.HealthResult{Component: server, LastCheck: time.Now()}

		st, ok := idx.status[server]
		switch {
		case !ok:
			result.Status = core.HealthUnhealthy
			result.Message = "unknown server"
			return result
		case !st.Enabled:
			result.Status = core.HealthHealthy
			result.Message = "disabled"
			return result
		case !st.Connected:
			result.Status = core.HealthUnhealthy
			result.Message = st.Error
			return result
		}

		if err := idx.clients[server].HealthCheck(ctx); err != nil {
			result.Status = core.HealthUnhealthy
			result.Message = err.Error()
			return result
		}
		result.Details = map[string]any{"tools": st.ToolCount, "session_id": st.SessionID}
		if st.ToolCount == 0 {
			result.Status = core.HealthDegraded
			result.Message = "no tools advertised"
			return result
		}
		result.Status = core.HealthHealthy
		return result
	})
}

// RegisterHealth registers a checker for every configured server.
func (r *Registry) RegisterHealth(reg *core.HealthRegistry) {
	for _, name := range r.Servers() {
		reg.Register("server:"+name, r.HealthChecker(name))
	}
}
