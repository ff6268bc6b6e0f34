package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"PPRelay/config"
	"PPRelay/global"
	"PPRelay/logger"
	"PPRelay/middleware"
	midsec "PPRelay/middleware/security"
	msg "PPRelay/module/message"
	"PPRelay/service/chat"
	"PPRelay/service/chat/handlers"
	"PPRelay/service/metrics"
	"PPRelay/tools/errs"
	"PPRelay/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var cfgPath, envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the websocket relay and the message api",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfgPath, envFile)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "yaml config file")
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file")
	return cmd
}

func serve(ctx context.Context, cfgPath, envFile string) error {
	cfg, err := config.Load(cfgPath, envFile)
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer logger.Sync()
	config.SetCurrent(cfg)
	log := logger.Named("gateway")

	deps, err := global.ConfigAll(ctx, cfg, logger.L())
	if err != nil {
		return err
	}
	defer deps.Close()

	m := metrics.New()
	s := chat.NewServer(chat.Options{
		NodeID:          cfg.NodeID,
		WS:              cfg.WS,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		Sinks:           deps.Sinks,
		PresenceRefresh: deps.PresenceRefresh,
		Metrics:         m,
		Logger:          logger.Named("relay"),
	})
	handlers.RegisterAll(s.Disp())

	if err := global.ConfigIngress(ctx, cfg, deps, s, logger.L()); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newEngine(cfg, s, deps, m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(ctx) })
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr), zap.String("node", cfg.NodeID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfgPath != "" {
		g.Go(func() error {
			// 只有日志级别支持热更新，其它项需要重启
			return config.Watch(ctx, cfgPath, envFile, func(old, cur config.Config) {
				if old.Log.Level != cur.Log.Level {
					if err := logger.SetLevel(cur.Log.Level); err != nil {
						log.Warn("bad log level in reloaded config", zap.Error(err))
					}
				}
			})
		})
	}

	err = g.Wait()
	log.Info("relay stopped", zap.Error(err))
	return err
}

func newEngine(cfg config.Config, s *chat.Server, deps *global.Deps, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	mm := middleware.NewManager()
	mm.Add(middleware.AccessLog(logger.Named("http"), m))
	mm.Add(middleware.CORS(cfg.HTTP.AllowedOrigins))
	r.Use(mm.Handlers()...)

	r.GET("/ws", s.HandleWS)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"node":        s.NodeID(),
			"online":      s.Registry().OnlineCount(),
			"connections": s.ConnMgr().Count(),
		})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.GET("/api/presence", presenceHandler(s, deps.Lookup))

	api := &msg.Server{
		Store: deps.Store,
		Relay: s.Relay(),
		Stat:  s.Status(),
		Call: msg.CallConfig{
			APIKey:    cfg.Auth.CallAPIKey,
			APISecret: cfg.Auth.CallAPISecret,
			TokenTTL:  cfg.Auth.CallTokenTTL,
		},
		Log: logger.Named("api"),
	}
	auth := midsec.Middleware(security.DefaultOptions([]byte(cfg.Auth.JWTSecret)))
	api.Register(middleware.NewRoutes(r, auth))
	return r
}

// presenceHandler 无参数返回本节点在线快照；?user= 先查本节点，再查 redis
func presenceHandler(s *chat.Server, lookup global.PresenceLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.Query("user"))
		if user == "" {
			c.JSON(http.StatusOK, gin.H{"userIds": s.Registry().Snapshot()})
			return
		}
		if s.Registry().IsOnline(user) {
			c.JSON(http.StatusOK, gin.H{"userId": user, "online": true, "node": s.NodeID()})
			return
		}
		if lookup == nil {
			c.JSON(http.StatusOK, gin.H{"userId": user, "online": false})
			return
		}
		node, online, err := lookup.Lookup(c.Request.Context(), user)
		if err != nil {
			logger.Named("api").Warn("presence lookup failed", zap.String("user", user), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, errs.ErrInternalServer)
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": user, "online": online, "node": node})
	}
}
