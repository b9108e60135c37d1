package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YunX-a/image-to-diagram-xml/config"
	"github.com/YunX-a/image-to-diagram-xml/generator"
	"github.com/YunX-a/image-to-diagram-xml/imageprep"
	"github.com/YunX-a/image-to-diagram-xml/logging"
	"github.com/YunX-a/image-to-diagram-xml/publisher"
	"github.com/YunX-a/image-to-diagram-xml/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml/json); env and .env are always read")
	mode := flag.String("mode", generator.ModeStaged, "pipeline mode: staged (plan then generate) or direct (single call)")
	outDir := flag.String("out", "", "output directory (overrides output.dir)")
	parallel := flag.Int("parallel", 1, "max images converted concurrently")
	serve := flag.Bool("serve", false, "start web server")
	addr := flag.String("addr", "", "http listen address when --serve (overrides server.addr)")
	verbose := flag.Bool("v", false, "enable debug logs")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image [image...]\n       %s --serve [flags]\n\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	level := cfg.Log.Level
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	// 启动前检查配置，缺什么一次性报出来
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if *mode != generator.ModeStaged && *mode != generator.ModeDirect {
		fatal(fmt.Errorf("unknown --mode %q", *mode))
	}
	if !*serve && flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent, err := buildAgent(ctx, cfg, logger)
	if err != nil {
		fatal(err)
	}
	pub, err := buildPublisher(cfg, logger)
	if err != nil {
		fatal(err)
	}

	if *serve {
		if err := runServer(ctx, cfg, agent, pub, logger); err != nil {
			fatal(err)
		}
		return
	}

	if failed := runBatch(ctx, agent, pub, cfg, *mode, *parallel, flag.Args(), logger); failed > 0 {
		logger.Error("some images failed", zap.Int("failed", failed), zap.Int("total", flag.NArg()))
		os.Exit(1)
	}
}

func buildLLM(ctx context.Context, cfg config.Config) (generator.LLMClient, error) {
	return generator.NewLLM(ctx, generator.LLMSettings{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
	})
}

func buildAgent(ctx context.Context, cfg config.Config, logger *zap.Logger) (*generator.Agent, error) {
	llm, err := buildLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gw, err := generator.NewGateway(llm, cfg.Timeout, logger.Named("gateway"))
	if err != nil {
		return nil, err
	}
	return generator.NewAgent(gw, generator.Templates{
		Perceptual:     cfg.Prompts.Perceptual,
		Semantic:       cfg.Prompts.Semantic,
		CodeGeneration: cfg.Prompts.CodeGeneration,
		Refinement:     cfg.Prompts.Refinement,
	}, generator.Options{
		MaxRefinements: cfg.MaxRefinements,
		Tokens: generator.TokenBudget{
			Perception: cfg.Tokens.Perception,
			Planning:   cfg.Tokens.Planning,
			Generation: cfg.Tokens.Generation,
			Refinement: cfg.Tokens.Refinement,
		},
	}, logger.Named("agent"))
}

func buildPublisher(cfg config.Config, logger *zap.Logger) (*publisher.Publisher, error) {
	var sink publisher.Sink
	if cfg.S3.Enabled() {
		s3, err := publisher.NewS3Sink(publisher.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
			Prefix:    cfg.S3.Prefix,
		})
		if err != nil {
			return nil, err
		}
		sink = s3
	} else {
		fs, err := publisher.NewFileSink(cfg.Output.Dir)
		if err != nil {
			return nil, err
		}
		sink = fs
	}
	return publisher.New(sink, publisher.Options{
		Pretty:     cfg.Output.Pretty,
		PlanReport: cfg.Output.PlanReport,
	}, logger.Named("publisher"))
}

func runServer(ctx context.Context, cfg config.Config, agent *generator.Agent, pub *publisher.Publisher, logger *zap.Logger) error {
	srv, err := server.New(agent, pub, server.Options{
		MaxSessions:       cfg.Server.MaxSessions,
		SessionTTL:        cfg.Server.SessionTTL,
		MaxUpload:         cfg.Server.MaxUpload,
		MaxImageDimension: cfg.MaxImageDimension,
	}, logger.Named("server"))
	if err != nil {
		return err
	}
	defer srv.Close()

	hs := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()
	logger.Info("starting web server", zap.String("addr", cfg.Server.Addr), zap.String("provider", cfg.Provider), zap.String("model", cfg.Model))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	// ListenAndServe 在 Shutdown 开始时就返回，等在途请求处理完再关后台转换
	<-shutdownDone
	return nil
}

// runBatch converts every image independently and returns how many failed.
// One image failing never stops the others.
func runBatch(ctx context.Context, agent *generator.Agent, pub *publisher.Publisher, cfg config.Config,
	mode string, parallel int, paths []string, logger *zap.Logger) int {
	if parallel < 1 {
		parallel = 1
	}
	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(parallel)
	for _, path := range paths {
		g.Go(func() error {
			if err := convertOne(ctx, agent, pub, cfg, mode, path, logger); err != nil {
				failed.Add(1)
				logger.Error("conversion failed", zap.String("image", path), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

func convertOne(ctx context.Context, agent *generator.Agent, pub *publisher.Publisher, cfg config.Config,
	mode, path string, logger *zap.Logger) error {
	img, err := imageprep.Load(path, cfg.MaxImageDimension)
	if err != nil {
		return err
	}
	logger.Info("image loaded", zap.String("image", path), zap.String("mime", img.MIMEType),
		zap.Int("width", img.Width), zap.Int("height", img.Height))

	sess := generator.NewSession(path, path, agent)
	res, err := sess.Run(ctx, img, mode)
	if err != nil {
		return err
	}
	if res.Exhausted && !res.Valid {
		logger.Warn("refinement budget exhausted, writing last candidate",
			zap.String("image", path), zap.String("last_error", res.LastError))
	}
	out, err := pub.Publish(ctx, publisher.PublishParams{
		Name:       publisher.ArtifactName(path),
		Source:     path,
		XML:        res.XML,
		Perception: res.Perception,
		Plan:       res.Plan,
		Valid:      res.Valid,
		Warnings:   res.Warnings,
	})
	if err != nil {
		return err
	}
	logger.Info("conversion done",
		zap.String("image", path),
		zap.Bool("valid", res.Valid),
		zap.Int("refinements", res.Refinements),
		zap.Duration("took", res.Duration))
	fmt.Println(out.XML)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
