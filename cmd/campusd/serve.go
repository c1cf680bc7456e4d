package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-campus-auth/provider/jwks"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the orphan reconciler and the session resolver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	httpLog := a.logger("http")

	var validator auth.SessionValidator = a.provider
	if hostedCfg, ok := a.cfg.HostedValidator(); ok {
		hosted, err := jwks.New(hostedCfg,
			jwks.WithLogger(a.logger("jwks")),
			jwks.WithFallback(a.provider),
		)
		if err != nil {
			return err
		}
		defer hosted.Close()
		validator = hosted
	}

	guard := auth.NewRouteGuard(validator, a.repo.Profiles(),
		auth.WithGuardConfig(a.cfg),
		auth.WithGuardLogger(httpLog),
		auth.WithGuardActivitySink(a.sink),
	)

	controllerOpts := []auth.ControllerOption{
		auth.WithControllerDebug(a.cfg.Server.Debug),
		auth.WithControllerLogger(httpLog),
		auth.WithControllerGuard(guard),
		auth.WithSessionCookie(auth.SessionCookie, a.cfg.GetTokenExpiration()),
		auth.WithControllerHandlers(
			auth.NewRegisterUserHandler(a.provider, a.repo,
				auth.WithRegisterLogger(a.logger("register")),
				auth.WithRegisterActivitySink(a.sink),
				auth.WithRegisterPhoneRegion(a.cfg.GetDefaultPhoneRegion()),
				auth.WithRegisterTimeout(a.cfg.Registration.Timeout),
			),
			auth.NewReviewApprovalHandler(a.repo,
				auth.WithReviewLogger(a.logger("review")),
				auth.WithReviewActivitySink(a.sink),
			),
			nil,
		),
	}
	if a.metrics != nil {
		controllerOpts = append(controllerOpts, auth.WithMetricsHandler(a.metrics.Handler()))
	}

	controller, err := auth.NewController(a.provider, a.repo, controllerOpts...)
	if err != nil {
		return err
	}

	server := fiber.New(fiber.Config{DisableStartupMessage: true})
	if a.metrics != nil {
		server.Use(a.metrics.Middleware())
	}
	controller.RegisterRoutes(server)

	resolver := auth.NewSessionResolver(a.provider, a.repo.Profiles(),
		auth.WithSessionResolverLogger(a.logger("session")),
		auth.WithSessionResolverActivitySink(a.sink),
	)
	resolver.OnChange(func(state auth.SessionState) {
		if state.Profile != nil {
			a.log.WithField("profile_id", state.Profile.ID).
				WithField("status", state.Profile.Status).
				Debug("operator session resolved")
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.WithField("addr", a.cfg.GetHTTPAddr()).Info("http server listening")
		return server.Listen(a.cfg.GetHTTPAddr())
	})

	g.Go(func() error {
		<-gctx.Done()
		return server.ShutdownWithTimeout(a.cfg.Server.ShutdownTimeout)
	})

	g.Go(func() error {
		if err := resolver.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return resolver.Close()
	})

	if a.cfg.Reconciler.Enabled {
		reconciler, err := a.reconciler()
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := reconciler.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			<-reconciler.Stop().Done()
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
