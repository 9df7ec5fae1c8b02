package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/imzyxwvu/xwsg/internal/config"
	"github.com/imzyxwvu/xwsg/internal/fcgi"
	"github.com/imzyxwvu/xwsg/internal/logging"
	"github.com/imzyxwvu/xwsg/internal/pki"
	"github.com/imzyxwvu/xwsg/internal/scheduler"
	"github.com/imzyxwvu/xwsg/internal/service"
	"github.com/imzyxwvu/xwsg/internal/sysstatus"
	"github.com/imzyxwvu/xwsg/internal/tcpserver"
)

func main() {
	configPath := flag.String("config", "/etc/xwsgd/xwsgd.yaml", "path to server config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	monitor := sysstatus.NewMonitor(logger)
	monitor.Start(15 * time.Second)
	defer monitor.Stop()

	chain, throttles, probers, err := buildChain(cfg, monitor, logger)
	if err != nil {
		logger.Error("building service chain", "error", err)
		os.Exit(1)
	}

	sched, err := scheduler.New(
		cfg.Scheduler.HealthProbeCron, cfg.Scheduler.HousekeepingCron,
		probers, nil, logger,
	)
	if err != nil {
		logger.Error("building scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	tlsCfg, err := buildTLSConfig(cfg.Listen.TLS)
	if err != nil {
		logger.Error("configuring TLS", "error", err)
		os.Exit(1)
	}

	srv := tcpserver.New(cfg.Listen.Addr, tlsCfg, chain, logger)
	srv.ThrottleLookup = func(host string) int64 { return throttles[host] }
	srv.ConnLogDir = cfg.ConnLogDir

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// buildTLSConfig builds the listener's TLS config from cfg, or returns nil
// if the listener is plaintext. require_client_cert selects mutual TLS
// (client certificates verified during the handshake), matching pki's two
// listener-side constructors.
func buildTLSConfig(tlsCfg *config.TLSConfig) (*tls.Config, error) {
	if tlsCfg == nil {
		return nil, nil
	}
	if tlsCfg.RequireClientCert {
		return pki.NewServerTLSConfig(tlsCfg.CACert, tlsCfg.ServerCert, tlsCfg.ServerKey)
	}
	return pki.NewServerTLSConfigNoClientAuth(tlsCfg.ServerCert, tlsCfg.ServerKey)
}

// buildS3Client loads the SDK's default config (region, shared config/
// credentials files, environment variables) and overrides it with the
// vhost's explicit region/static credentials/endpoint when given, the way
// an S3-compatible store sitting outside AWS needs a fixed endpoint and
// path-style addressing.
func buildS3Client(s3cfg *config.S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if s3cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s3cfg.Region))
	}
	if s3cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = &s3cfg.Endpoint
			o.UsePathStyle = true
		}
	}), nil
}

// buildChain assembles the HostDispatch service covering every configured
// virtual host, plus a /_status route (when enabled) answered straight
// from the sysstatus monitor — the DOMAIN STACK's generalization of the
// teacher's agent health reporting from "agent" to "server".
func buildChain(cfg *config.Config, monitor *sysstatus.Monitor, logger *slog.Logger) (service.Service, map[string]int64, []scheduler.Prober, error) {
	dispatch := service.NewHostDispatch(nil)
	throttles := make(map[string]int64)
	var probers []scheduler.Prober

	for name, vh := range cfg.VHosts {
		svc, pp, err := buildVHostService(vh, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("vhost %s: %w", name, err)
		}
		if pp != nil {
			probers = append(probers, pp)
		}
		if vh.ThrottleRaw() > 0 {
			throttles[service.NormalizeHost(name)] = vh.ThrottleRaw()
		}
		dispatch.Register(name, svc)
	}

	var top []service.Service
	if cfg.Status.Enabled {
		path := cfg.Status.Path
		if path == "" {
			path = "/_status"
		}
		route, err := service.NewRegexRoute("^"+regexp.QuoteMeta(path)+"$",
			service.NewLambdaService(func(tx *service.Transaction) error {
				body, err := monitor.JSON()
				if err != nil {
					return err
				}
				return tx.Respond(200, "application/json", body)
			}))
		if err != nil {
			return nil, nil, nil, err
		}
		top = append(top, route)
	}
	top = append(top, dispatch)

	return service.NewChain(logger, top...), throttles, probers, nil
}

// buildVHostService builds one vhost's request pipeline — proxy_pass,
// local_file_service or s3_file_service at the core, wrapped with
// compression, basic auth and TLS enforcement per the vhost's
// configuration, innermost out, then logger_service outermost so it
// observes the final response. The returned *service.ProxyPass (nil for
// non-proxy vhosts) is handed straight back to the scheduler as a
// scheduler.Prober.
func buildVHostService(vh config.VHostConfig, logger *slog.Logger) (service.Service, *service.ProxyPass, error) {
	var core service.Service
	var pp *service.ProxyPass

	switch {
	case len(vh.ProxyPass) > 0:
		pp = service.NewProxyPass(vh.ProxyPass)
		if vh.ProxyMount != "" {
			route, err := service.NewRegexRoute("^"+regexp.QuoteMeta(vh.ProxyMount), pp)
			if err != nil {
				return nil, nil, err
			}
			core = route
		} else {
			core = pp
		}
	case vh.Docroot != "":
		lf := service.NewLocalFileService(vh.Docroot)
		if len(vh.DefaultDocuments) > 0 {
			lf.DefaultDocuments = vh.DefaultDocuments
		}
		for ext, addr := range vh.FCGI {
			lf.FCGIMap[ext] = fcgi.NewTCPProvider(addr, logger)
		}
		core = lf
	case vh.S3 != nil:
		client, err := buildS3Client(vh.S3)
		if err != nil {
			return nil, nil, fmt.Errorf("building s3 client: %w", err)
		}
		core = service.NewS3FileService(client, vh.S3.Bucket, vh.S3.Prefix)
	default:
		return nil, nil, fmt.Errorf("none of docroot, s3 or proxy_pass configured")
	}

	if vh.Compress {
		core = service.NewCompressService(core)
	}
	if vh.BasicAuth != nil {
		users := vh.BasicAuth.Users
		core = service.NewBasicAuthenticator(vh.BasicAuth.Realm, func(user, pass string) bool {
			want, ok := users[user]
			return ok && want == pass
		}, core)
	}
	if vh.RequireTLS {
		core = service.NewTLSFilter(403, []byte("TLS required"), core)
	}

	return service.NewLoggerService(logger, core), pp, nil
}
