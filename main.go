package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/hark/audio"
	"node.town/hark/config"
	"node.town/hark/rtc"
	"node.town/hark/session"
	"node.town/hark/stt"
	"node.town/hark/tools"
	"node.town/hark/tui"
	"node.town/hark/www"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(talkCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(toolsCmd)

	rootCmd.PersistentFlags().String("openai-api-key", "", "OpenAI API key")
	rootCmd.PersistentFlags().String("gemini-api-key", "", "Gemini API key")
	rootCmd.PersistentFlags().String("voice", "alloy", "Assistant voice")
	rootCmd.PersistentFlags().
		String("transcriber", config.TranscriberWhisper, "Local transcription backend (whisper or gemini)")
	rootCmd.PersistentFlags().
		Int("debug-port", 0, "Serve session diagnostics on this port (0 disables)")
	rootCmd.PersistentFlags().String("log-file", "hark.log", "Log file used while the UI runs")

	viper.BindPFlag(
		"openai_api_key",
		rootCmd.PersistentFlags().Lookup("openai-api-key"),
	)
	viper.BindPFlag(
		"gemini_api_key",
		rootCmd.PersistentFlags().Lookup("gemini-api-key"),
	)
	viper.BindPFlag("voice", rootCmd.PersistentFlags().Lookup("voice"))
	viper.BindPFlag(
		"transcriber",
		rootCmd.PersistentFlags().Lookup("transcriber"),
	)
	viper.BindPFlag("debug_port", rootCmd.PersistentFlags().Lookup("debug-port"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	logger = log.New(os.Stderr)

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		logger.Warn("Error reading config file", "error", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hark",
	Short: "hark is a realtime voice assistant for the terminal",
	Long: `hark talks to a realtime speech model over WebRTC, transcribes your
side of the conversation locally and lets the model call tools.`,
}

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Start a voice conversation",
	Run:   runTalk,
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write API keys and defaults to config.yaml",
	Run: func(cmd *cobra.Command, args []string) {
		RunSetup()
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered to the model",
	Run:   runListTools,
}

func runTalk(cmd *cobra.Command, args []string) {
	settings, err := config.New(viper.GetViper()).Load()
	if err != nil {
		logger.Fatal("load config", "error", err.Error())
	}
	if settings.OpenAIAPIKey == "" {
		logger.Fatal("missing OPENAI_API_KEY or --openai-api-key=")
	}

	fileLogger, logFile, err := tui.OpenLogFile(viper.GetString("log_file"), log.DebugLevel)
	if err != nil {
		logger.Fatal("open log file", "error", err.Error())
	}
	defer logFile.Close()
	logger = fileLogger

	mainLogger, rtcLogger, hearLogger, chatLogger := createLoggers()

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	transcriber, err := newTranscriber(ctx, settings, hearLogger)
	if err != nil {
		mainLogger.Fatal("create transcriber", "error", err.Error())
	}
	if c, ok := transcriber.(interface{ Close() error }); ok {
		defer c.Close()
	}

	var newPlayer func() (audio.Player, error)
	if settings.Playback {
		newPlayer = func() (audio.Player, error) {
			p, err := audio.NewFFplayPlayer(rtcLogger)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}

	httpClient := &http.Client{Timeout: settings.HTTPTimeout}

	negotiator := rtc.NewNegotiator(
		rtc.Config{
			RealtimeURL: settings.RealtimeURL,
			Model:       settings.Model,
			ICEServers:  settings.ICEServers,
			HTTPClient:  httpClient,
		},
		&audio.FFmpegMicrophone{Device: settings.MicDevice, Log: rtcLogger},
		&rtc.HTTPTokenSource{
			URL:    settings.TokenURL,
			APIKey: settings.OpenAIAPIKey,
			Model:  settings.Model,
			Client: httpClient,
		},
		newPlayer,
		rtcLogger,
	)

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, nil); err != nil {
		mainLogger.Fatal("register tools", "error", err.Error())
	}

	sess, err := session.New(session.Options{
		Transport:         session.Negotiated(negotiator),
		Transcriber:       transcriber,
		NewRecorder:       session.OggRecorders(settings.ChunkInterval, hearLogger),
		Tools:             registry,
		Instructions:      settings.Instructions,
		SettleDelay:       settings.SettleDelay,
		KeepaliveURL:      settings.KeepaliveURL,
		KeepaliveInterval: settings.KeepaliveInterval,
		HTTPClient:        httpClient,
		Log:               chatLogger,
	})
	if err != nil {
		mainLogger.Fatal("create session", "error", err.Error())
	}

	if settings.DebugPort > 0 {
		handler := www.NewRouter(www.NewHandler(sess, mainLogger))
		go func() {
			if err := www.Serve(ctx, settings.DebugPort, handler, mainLogger); err != nil {
				mainLogger.Error("diagnostics server", "error", err.Error())
			}
		}()
	}

	if err := tui.Run(ctx, sess, settings.Voice, chatLogger); err != nil {
		mainLogger.Fatal("ui", "error", err.Error())
	}
}

func newTranscriber(
	ctx context.Context,
	settings config.Settings,
	logger *log.Logger,
) (stt.Transcriber, error) {
	switch settings.Transcriber {
	case config.TranscriberGemini:
		g, err := stt.NewGemini(ctx, settings.GeminiAPIKey, settings.GeminiModel, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.TranscriberWhisper:
		return stt.NewWhisper(stt.WhisperConfig{
			APIKey:   settings.OpenAIAPIKey,
			BaseURL:  settings.TranscribeBaseURL,
			Model:    settings.TranscribeModel,
			Language: settings.Language,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown transcriber %q", settings.Transcriber)
	}
}

func runListTools(cmd *cobra.Command, args []string) {
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, nil); err != nil {
		logger.Fatal("register tools", "error", err.Error())
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Description", "Parameters"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.AppendBulk(toolRows(registry.List()))
	table.Render()
}

func toolRows(list []tools.Tool) [][]string {
	rows := make([][]string, 0, len(list))
	for _, t := range list {
		rows = append(rows, []string{
			t.Name,
			t.Description,
			strings.Join(parameterNames(t.Parameters), ", "),
		})
	}
	return rows
}

// parameterNames lists the properties of a JSON schema object, required
// ones marked with an asterisk.
func parameterNames(schema map[string]any) []string {
	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	if req, ok := schema["required"].([]string); ok {
		for _, name := range req {
			required[name] = true
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		if required[name] {
			name += "*"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func createLoggers() (mainLogger, rtcLogger, hearLogger, chatLogger *log.Logger) {
	logLevel := log.DebugLevel

	logger.SetLevel(logLevel)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	mainLogger = logger.With().WithPrefix("main")
	rtcLogger = logger.With().WithPrefix("link")
	hearLogger = logger.With().WithPrefix("hear")
	chatLogger = logger.With().WithPrefix("chat")

	return
}
