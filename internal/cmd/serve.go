package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/gatelet/gatelet/pkgs/approvals"
	"github.com/gatelet/gatelet/pkgs/compositor"
	"github.com/gatelet/gatelet/pkgs/metrics"
	"github.com/gatelet/gatelet/pkgs/notifications"
	"github.com/gatelet/gatelet/pkgs/policy"
	"github.com/gatelet/gatelet/pkgs/router"
)

var fServe = pflag.NewFlagSet("serve", pflag.ExitOnError)

func init() {

	initSharedFlagSet()

	fServe.StringP("listen", "l", ":8000", "listen address for incoming agent and management connections.")
	fServe.StringP("mounts", "m", "", "path to the mounts file describing the tool backends.")
	fServe.StringP("tokens", "t", "", "path to the tokens file mapping bearer tokens to identities.")

	Serve.Flags().AddFlagSet(fServe)
	Serve.Flags().AddFlagSet(fPolicy)
	Serve.Flags().AddFlagSet(fAudit)
	Serve.Flags().AddFlagSet(fTLSServer)
	Serve.Flags().AddFlagSet(fTLSClient)
	Serve.Flags().AddFlagSet(fHealth)
}

// Serve is the cobra command to run the multi-tenant gateway.
var Serve = &cobra.Command{
	Use:              "serve",
	Short:            "Start the policy-gated gateway behind one listener",
	SilenceUsage:     true,
	SilenceErrors:    true,
	TraverseChildren: true,

	RunE: func(cmd *cobra.Command, args []string) error {

		ctx := cmd.Context()

		listen := viper.GetString("listen")
		if listen == "" {
			return fmt.Errorf("--listen must be set")
		}

		mountsPath := viper.GetString("mounts")
		if mountsPath == "" {
			mountsPath = defaultConfigPath("mounts.yaml")
		}

		tokensPath := viper.GetString("tokens")
		if tokensPath == "" {
			tokensPath = defaultConfigPath("tokens.yaml")
		}

		mounts, err := loadMounts(mountsPath)
		if err != nil {
			return err
		}

		store, err := router.NewTokenStoreFromFile(tokensPath)
		if err != nil {
			return fmt.Errorf("unable to load token store: %w", err)
		}

		evaluator, err := makeEvaluator(ctx)
		if err != nil {
			return fmt.Errorf("unable to make evaluator: %w", err)
		}

		sink, err := makeSink()
		if err != nil {
			return err
		}

		serverTLSConfig, err := serverTLSConfigFromFlags()
		if err != nil {
			return err
		}

		clientTLSConfig, err := clientTLSConfigFromFlags()
		if err != nil {
			return err
		}

		hub := approvals.NewHub()

		var mm *metrics.Manager
		healthEnabled, _ := fHealth.GetBool("health-enable")
		healthListen, _ := fHealth.GetString("health-listen")
		if healthEnabled && healthListen != "" {
			mm = metrics.NewManager(healthListen)
		}

		gwOpts := []policy.GatewayOption{
			policy.OptGatewayAuditSink(sink),
		}
		if d := viper.GetDuration("policy-timeout"); d > 0 {
			gwOpts = append(gwOpts, policy.OptGatewayEvaluationTimeout(d))
		}
		if mm != nil {
			gwOpts = append(gwOpts, policy.OptGatewayDecisionHook(mm.RegisterDecision))
		}

		runtimes := router.RuntimeManagerFunc(func(_ context.Context, agentID string) (http.Handler, error) {

			comp := compositor.New(compositor.OptTLSClientConfig(clientTLSConfig))

			for name, spec := range mounts {
				if err := comp.Mount(name, spec); err != nil {
					_ = comp.Close()
					return nil, fmt.Errorf("unable to mount '%s': %w", name, err)
				}
			}

			buffer := notifications.New(comp)
			gw := policy.NewGateway(evaluator, comp, hub, gwOpts...)

			slog.Info("Agent runtime started", "agent", agentID, "mounts", len(mounts))

			return router.NewAgent(gw, comp, buffer), nil
		})

		admin := router.NewAdmin(hub, sink)

		var handler http.Handler = router.New(store, admin, runtimes)
		if mm != nil {
			handler = measureHandler(mm, handler)
		}

		server := &http.Server{
			Addr:              listen,
			Handler:           handler,
			TLSConfig:         serverTLSConfig,
			ReadHeaderTimeout: time.Second,
		}

		slog.Info("Gatelet configured",
			"listen", listen,
			"tls", serverTLSConfig != nil,
			"mounts", len(mounts),
		)

		eg, egctx := errgroup.WithContext(ctx)

		if mm != nil {

			eg.Go(func() error { return mm.Start(egctx) })

			eg.Go(func() error {
				ticker := time.NewTicker(5 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-egctx.Done():
						return nil
					case <-ticker.C:
						mm.SetPendingApprovals(len(hub.Pending()))
					}
				}
			})
		}

		eg.Go(func() error {

			server.BaseContext = func(net.Listener) context.Context { return egctx }

			var err error
			if serverTLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}

			if err != nil && err != http.ErrServerClosed {
				return err
			}

			return nil
		})

		eg.Go(func() error {

			<-egctx.Done()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()

			return server.Shutdown(stopCtx)
		})

		return eg.Wait()
	},
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {

	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("unable to hijack response writer")
	}

	return h.Hijack()
}

func measureHandler(mm *metrics.Manager, next http.Handler) http.Handler {

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {

		finish := mm.MeasureRequest(req.Method, req.URL.Path)

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, req)

		finish(rec.code)
	})
}
