package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vivagen/internal/domain"
	"vivagen/internal/generate"
	"vivagen/internal/http/handlers"
	"vivagen/internal/http/httpapi"
	"vivagen/internal/infra"
	"vivagen/internal/infra/credentials"
	"vivagen/internal/library"
	"vivagen/internal/providers/billing"
	"vivagen/internal/providers/image"
	"vivagen/internal/providers/kling"
	"vivagen/internal/providers/prompt"
	"vivagen/internal/providers/video"
	"vivagen/internal/storage"
)

const usage = `usage: vivagen <command> [flags]

commands:
  generate  submit a generation batch and wait for the results
  list      print the stored asset collection
  delete    remove an asset
  refresh   re-run an asset from its saved settings
  optimize  rewrite a prompt with the optimizer model
  balance   print the remaining account balance
  auth      save the API key
  serve     run the local viewer API
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	var cmdErr error
	switch os.Args[1] {
	case "generate":
		cmdErr = runGenerate(cfg, logger, os.Args[2:])
	case "list":
		cmdErr = runList(cfg, logger, os.Args[2:])
	case "delete":
		cmdErr = runDelete(cfg, logger, os.Args[2:])
	case "refresh":
		cmdErr = runRefresh(cfg, logger, os.Args[2:])
	case "optimize":
		cmdErr = runOptimize(cfg, os.Args[2:])
	case "balance":
		cmdErr = runBalance(cfg, os.Args[2:])
	case "auth":
		cmdErr = runAuth(cfg, os.Args[2:])
	case "serve":
		cmdErr = runServe(cfg, logger, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if cmdErr != nil {
		exitWithError(cmdErr)
	}
}

// credentialSource prefers the environment key and falls back to the saved
// credential on every call, so a key saved mid-session is picked up.
func credentialSource(cfg *infra.Config) func() string {
	store := credentials.NewStore(cfg.CredentialsPath)
	return func() string {
		if cfg.APIKey != "" {
			return cfg.APIKey
		}
		key, err := store.APIKey()
		if err != nil {
			return ""
		}
		return key
	}
}

func newDispatcher(cfg *infra.Config, logger infra.Logger) (*generate.Dispatcher, error) {
	assetStore, err := storage.NewAssetStore(cfg.StoragePath, &logger)
	if err != nil {
		return nil, err
	}
	credential := credentialSource(cfg)
	apiKey := credential()

	images, err := image.NewClient(image.Options{APIKey: apiKey, Logger: &logger, RequestTimeout: cfg.RequestTimeout})
	if err != nil {
		return nil, err
	}
	videos, err := video.NewClient(video.Options{APIKey: apiKey, Logger: &logger, RequestTimeout: cfg.RequestTimeout})
	if err != nil {
		return nil, err
	}
	omni, err := kling.NewClient(kling.Options{APIKey: apiKey, Logger: &logger, RequestTimeout: cfg.RequestTimeout})
	if err != nil {
		return nil, err
	}

	return generate.New(generate.Options{
		Store:      assetStore,
		Images:     images,
		Videos:     videos,
		Omni:       omni,
		Credential: credential,
		Logger:     &logger,
	})
}

func runGenerate(cfg *infra.Config, logger infra.Logger, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var (
		kindFlag   = fs.String("kind", "image", "generation kind (image or video)")
		modelFlag  = fs.String("model", "gemini-2.5-flash-image", "model id")
		promptFlag = fs.String("prompt", "", "generation prompt")
		ratioFlag  = fs.String("ratio", "1:1", "aspect ratio")
		sizeFlag   = fs.String("size", "AUTO", "image resolution")
		optionFlag = fs.Int("option", 0, "video duration/quality option index")
		countFlag  = fs.Int("count", 1, "number of variants (1-10)")
		refsFlag   = fs.String("refs", "", "comma-separated reference image urls")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := context.Background()
	if err := d.Resume(ctx); err != nil {
		return err
	}

	var refs []domain.ReferenceImage
	for _, u := range strings.Split(*refsFlag, ",") {
		if u = strings.TrimSpace(u); u != "" {
			refs = append(refs, domain.ReferenceImage{URL: u})
		}
	}

	ids, err := d.Submit(ctx, generate.Request{
		Kind:        domain.AssetKind(*kindFlag),
		ModelID:     *modelFlag,
		Prompt:      *promptFlag,
		AspectRatio: *ratioFlag,
		ImageSize:   *sizeFlag,
		OptionIndex: *optionFlag,
		Count:       *countFlag,
		References:  refs,
	})
	if err != nil {
		return err
	}
	logger.Info().Int("variants", len(ids)).Msg("batch submitted")

	if err := d.Wait(ctx, ids); err != nil {
		return err
	}
	for _, asset := range d.Assets() {
		for _, id := range ids {
			if asset.ID == id {
				printAsset(asset)
			}
		}
	}
	return nil
}

func runList(cfg *infra.Config, logger infra.Logger, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	d, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Resume(context.Background()); err != nil {
		return err
	}
	assets := d.Assets()
	if len(assets) == 0 {
		fmt.Println("no assets")
		return nil
	}
	for _, asset := range assets {
		printAsset(asset)
	}
	return nil
}

func runDelete(cfg *infra.Config, logger infra.Logger, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	idFlag := fs.String("id", "", "asset id to delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*idFlag) == "" {
		return errors.New("-id is required")
	}
	d, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()
	ctx := context.Background()
	if err := d.Resume(ctx); err != nil {
		return err
	}
	return d.Delete(ctx, *idFlag)
}

func runRefresh(cfg *infra.Config, logger infra.Logger, args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	idFlag := fs.String("id", "", "asset id to regenerate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*idFlag) == "" {
		return errors.New("-id is required")
	}
	d, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()
	ctx := context.Background()
	if err := d.Resume(ctx); err != nil {
		return err
	}
	ids, err := d.Refresh(ctx, *idFlag)
	if err != nil {
		return err
	}
	if err := d.Wait(ctx, ids); err != nil {
		return err
	}
	for _, asset := range d.Assets() {
		if asset.ID == ids[0] {
			printAsset(asset)
		}
	}
	return nil
}

func runOptimize(cfg *infra.Config, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	var (
		kindFlag   = fs.String("kind", "image", "generation kind (image or video)")
		promptFlag = fs.String("prompt", "", "draft prompt to rewrite")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	key := credentialSource(cfg)()
	if key == "" {
		return domain.ErrMissingCredential
	}
	optimizer, err := prompt.NewOptimizer(prompt.Options{APIKey: key})
	if err != nil {
		return err
	}
	kind := domain.AssetKindImage
	if *kindFlag == string(domain.AssetKindVideo) {
		kind = domain.AssetKindVideo
	}
	optimized, err := optimizer.Optimize(context.Background(), kind, *promptFlag)
	if err != nil {
		return err
	}
	fmt.Println(optimized)
	return nil
}

func runBalance(cfg *infra.Config, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	key := credentialSource(cfg)()
	if key == "" {
		return domain.ErrMissingCredential
	}
	client, err := billing.NewClient(billing.Options{APIKey: key})
	if err != nil {
		return err
	}
	balance, err := client.RemainingBalance(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("$%.2f\n", balance)
	return nil
}

func runAuth(cfg *infra.Config, args []string) error {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	keyFlag := fs.String("key", "", "API key to save")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := credentials.NewStore(cfg.CredentialsPath).SetAPIKey(*keyFlag); err != nil {
		return err
	}
	fmt.Println("credential saved")
	return nil
}

func runServe(cfg *infra.Config, logger infra.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addrFlag := fs.String("addr", cfg.ListenAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Resume(context.Background()); err != nil {
		return err
	}

	lib, err := library.Open(cfg.LibraryPath)
	if err != nil {
		return err
	}

	key := credentialSource(cfg)()
	app := &handlers.App{Dispatcher: d, Library: lib}
	if key != "" {
		if app.Optimizer, err = prompt.NewOptimizer(prompt.Options{APIKey: key}); err != nil {
			return err
		}
		if app.Billing, err = billing.NewClient(billing.Options{APIKey: key}); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:              *addrFlag,
		Handler:           httpapi.NewRouter(app, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", *addrFlag).Msg("viewer API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func printAsset(asset domain.Asset) {
	fmt.Printf("%s  %-6s %-10s %-22s %s\n", asset.ID, asset.Kind, asset.Status, asset.ModelName, displayResult(asset))
}

func displayResult(asset domain.Asset) string {
	if asset.Status == domain.StatusFailed {
		return asset.GenTimeLabel
	}
	if asset.URL != "" {
		return asset.URL
	}
	return asset.GenTimeLabel
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
