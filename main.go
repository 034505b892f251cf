package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"kioskagent/agent"
	"kioskagent/core"
	"kioskagent/factories"
	"kioskagent/transports/livekit"
)

type cliOptions struct {
	variantName  string
	settingsPath string
	devMode      bool
	connectRoom  string
}

// parseCommandLine loads the env files first so flag defaults see their values.
func parseCommandLine(args []string, envFiles ...string) (cliOptions, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			core.GetLogger().Warn("failed to load env file", "file", file, "error", err)
		}
	}

	var opts cliOptions
	fs := flag.NewFlagSet("kioskagent", flag.ContinueOnError)
	fs.StringVar(&opts.variantName, "variant", getEnv("AGENT_VARIANT", factories.VariantHealthcare), "agent variant: healthcare or realestate")
	fs.StringVar(&opts.settingsPath, "settings", os.Getenv("SETTINGS_PATH"), "optional JSON settings overlay")
	fs.BoolVar(&opts.devMode, "dev", false, "development mode: debug logging and verbose worker output")
	fs.StringVar(&opts.connectRoom, "connect", "", "join this room directly instead of waiting for dispatch")
	err := fs.Parse(args)
	return opts, err
}

func main() {
	opts, err := parseCommandLine(os.Args[1:], ".env.local", ".env")
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	logConfig := core.LogConfigFromEnv()
	if opts.devMode {
		logConfig.Level = "debug"
	}
	logger, err := core.NewLoggerFromConfig(logConfig)
	if err != nil {
		core.GetLogger().Error("invalid log config, using defaults", "error", err)
		logger = core.GetLogger()
	}
	core.SetLogger(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts.variantName, opts.settingsPath, opts.devMode, opts.connectRoom, logger); err != nil {
		logger.Error("agent exited with error", "error", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("agent stopped")
}

func run(ctx context.Context, variantName, settingsPath string, devMode bool, connectRoom string, logger *core.Logger) error {
	variant, err := factories.VariantByName(variantName)
	if err != nil {
		return err
	}
	logger = logger.With(map[string]any{"variant": variant.Name})

	settings := variant.Defaults
	if settingsPath != "" {
		if settings, err = factories.SettingsFromFile(settingsPath, settings); err != nil {
			return err
		}
		logger.Info("loaded settings overlay", "path", settingsPath)
	}
	settings.LiveKit.InjectEnv()
	settings.ParticipantTimeout = getEnv("PARTICIPANT_TIMEOUT", settings.ParticipantTimeout)
	settings.MaxSessionDuration = getEnv("MAX_SESSION_DURATION", settings.MaxSessionDuration)
	settings.Silero.OnnxPath = getEnv("SILERO_MODEL_PATH", settings.Silero.OnnxPath)
	settings.Silero.OnnxRuntimePath = getEnv("ONNXRUNTIME_LIB", settings.Silero.OnnxRuntimePath)

	if err := settings.LiveKit.Validate(); err != nil {
		return fmt.Errorf("livekit: %w", err)
	}
	options, err := variant.SessionOptions(settings, factories.APIKeysFromEnv(), logger)
	if err != nil {
		return err
	}

	loadVAD := factories.VADLoader(settings.Silero)
	proc := agent.NewProcessContext(logger)
	pipeline := factories.NewPipeline(agent.NewBootstrapper(options, loadVAD), proc, loadVAD, settings.LiveKit.RoomConfig(), logger)

	worker, err := livekit.NewWorker(settings.LiveKit.WorkerConfig(variant.Name, devMode, logger), pipeline.Entrypoint, pipeline.Prewarm)
	if err != nil {
		return err
	}

	logger.Info("starting kiosk agent",
		"assistant", variant.AssistantName,
		"stt", settings.STT.Provider,
		"llm", settings.LLM.Model,
		"tts", settings.TTS.Provider,
		"participant_timeout", options.ParticipantTimeout.String(),
	)

	if connectRoom != "" {
		logger.Info("connecting directly to room", "room", connectRoom)
		if err := worker.RunRoom(ctx, connectRoom); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	return pipeline.Serve(ctx, worker)
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
