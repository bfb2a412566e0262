package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	corsMiddleware(r.mux).ServeHTTP(w, req)
}

// RegisterVitalsRoutes 注册接入与读数查询路由。
// limiter 非空时接入路由挂限流中间件
func (r *Router) RegisterVitalsRoutes(v *VitalsHandler, limiter *IPRateLimiter) {
	ingestHandler := func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		v.Ingest(w, req)
	}
	if limiter != nil {
		ingestHandler = limiter.Middleware(ingestHandler)
	}
	r.Handle("/vitals/api/v1/ingest", ingestHandler)

	// patients/{id}/readings 与 patients/{id}/latest
	r.Handle("/vitals/api/v1/patients/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/vitals/api/v1/patients/")
		parts := strings.Split(rest, "/")
		if len(parts) != 2 || parts[0] == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch parts[1] {
		case "readings":
			v.ListReadings(w, req, parts[0])
		case "latest":
			v.Latest(w, req, parts[0])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// RegisterSecurityEventRoutes 注册审计日志路由
func (r *Router) RegisterSecurityEventRoutes(s *SecurityEventsHandler) {
	r.Handle("/vitals/api/v1/security-events", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.List(w, req)
	})
	r.Handle("/vitals/api/v1/security-events/export", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.Export(w, req)
	})
}

// RegisterTwoFARoutes 注册二次验证路由
func (r *Router) RegisterTwoFARoutes(h *TwoFAHandler) {
	post := func(fn http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			if req.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			fn(w, req)
		}
	}
	r.Handle("/auth/api/v1/2fa/setup", post(h.Setup))
	r.Handle("/auth/api/v1/2fa/verify", post(h.Verify))
	r.Handle("/auth/api/v1/2fa/disable", post(h.Disable))
}
