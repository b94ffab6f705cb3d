package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"meetscribe/audio"
	"meetscribe/db"
	"meetscribe/llm"
	"meetscribe/recognizer"
	"meetscribe/scribe"
	"meetscribe/session"
	"meetscribe/stt"
	"meetscribe/token"
	"meetscribe/transcript"
	"meetscribe/web"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listSessionsCmd)
	rootCmd.AddCommand(summarizeCmd)

	rootCmd.PersistentFlags().String("database-url", "", "Postgres connection URL")
	rootCmd.PersistentFlags().String("scribe-url", "", "Streaming transcription websocket URL")
	rootCmd.PersistentFlags().String("token-url", "", "STT token endpoint URL")
	rootCmd.PersistentFlags().String("openai-api-key", "", "OpenAI API key")
	rootCmd.PersistentFlags().String("language", "de", "Transcription language code")
	rootCmd.PersistentFlags().Int("http-port", 8080, "HTTP server port")
	rootCmd.PersistentFlags().Int("max-duration-sec", session.DefaultMaxDurationSec, "Recording duration cap in seconds")
	rootCmd.PersistentFlags().Int("countdown-sec", session.DefaultCountdownSec, "Countdown budget in seconds")
	rootCmd.PersistentFlags().String("recognizer-cmd", "", "Local recognizer command for the fallback engine")
	rootCmd.PersistentFlags().StringSlice("recognizer-args", nil, "Arguments for the local recognizer command")

	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("scribe_url", rootCmd.PersistentFlags().Lookup("scribe-url"))
	viper.BindPFlag("token_url", rootCmd.PersistentFlags().Lookup("token-url"))
	viper.BindPFlag("openai_api_key", rootCmd.PersistentFlags().Lookup("openai-api-key"))
	viper.BindPFlag("language", rootCmd.PersistentFlags().Lookup("language"))
	viper.BindPFlag("http_port", rootCmd.PersistentFlags().Lookup("http-port"))
	viper.BindPFlag("max_duration_sec", rootCmd.PersistentFlags().Lookup("max-duration-sec"))
	viper.BindPFlag("countdown_sec", rootCmd.PersistentFlags().Lookup("countdown-sec"))
	viper.BindPFlag("recognizer_cmd", rootCmd.PersistentFlags().Lookup("recognizer-cmd"))
	viper.BindPFlag("recognizer_args", rootCmd.PersistentFlags().Lookup("recognizer-args"))
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stdout)
}

var rootCmd = &cobra.Command{
	Use:   "meetscribe",
	Short: "Meetscribe records meetings and turns them into summaries",
	Long:  `Meetscribe captures meeting audio, transcribes it live with automatic engine failover, and produces a summary when the recording stops.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording session controller and its HTTP API",
	Run:   runServe,
}

var listSessionsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recorded sessions in a table",
	Run:   runListSessions,
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <sessionID>",
	Short: "Summarize a recorded session's transcript using OpenAI",
	Args:  cobra.ExactArgs(1),
	Run:   runSummarize,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func createLoggers() (mainLogger, hearLogger, sqlLogger *log.Logger) {
	logger.SetLevel(log.DebugLevel)
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
	hearLogger = logger.With().WithPrefix("hear")
	sqlLogger = logger.With().WithPrefix("data")

	return
}

// pulseMicrophone adapts the audio package to the controller's interface.
type pulseMicrophone struct{}

func (pulseMicrophone) Acquire() (session.AudioSource, error) {
	return audio.Acquire()
}

// engineFactory builds both transcription engines from configuration.
type engineFactory struct {
	scribeURL      string
	language       string
	issuer         token.Issuer
	hearLogger     *log.Logger
	recognizerCmd  string
	recognizerArgs []string
}

func (f *engineFactory) Primary(frames <-chan []byte) stt.Connector {
	return scribe.NewConnection(scribe.Config{
		URL:      f.scribeURL,
		Language: f.language,
		Issuer:   f.issuer,
		Logger:   f.hearLogger,
	}, frames)
}

func (f *engineFactory) Fallback() stt.Connector {
	platform := &recognizer.CommandPlatform{
		Path: f.recognizerCmd,
		Args: f.recognizerArgs,
	}
	return recognizer.NewContinuous(platform, f.language, f.hearLogger)
}

func runServe(cmd *cobra.Command, args []string) {
	mainLogger, hearLogger, sqlLogger := createLoggers()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, store, err := db.OpenDatabase(ctx, viper.GetString("database_url"))
	if err != nil {
		mainLogger.Fatal("initialize database", "error", err.Error())
	}
	defer conn.Close(context.Background())
	sqlLogger.Info("database ready")

	persister := transcript.NewPersister(store, sqlLogger)
	defer persister.Close()

	model := llm.NewOpenAILanguageModel(viper.GetString("openai_api_key"))
	summarizer := llm.NewSummarizer(mainLogger, model, store)

	factory := &engineFactory{
		scribeURL:      viper.GetString("scribe_url"),
		language:       viper.GetString("language"),
		issuer:         token.NewHTTPIssuer(viper.GetString("token_url")),
		hearLogger:     hearLogger,
		recognizerCmd:  viper.GetString("recognizer_cmd"),
		recognizerArgs: viper.GetStringSlice("recognizer_args"),
	}

	controller := session.NewController(mainLogger, session.Config{
		MaxDurationSec: viper.GetInt("max_duration_sec"),
		CountdownSec:   viper.GetInt("countdown_sec"),
	}, session.Deps{
		Store:      store,
		Persister:  persister,
		Summarizer: summarizer,
		Microphone: pulseMicrophone{},
		Connectors: factory,
	})

	go controller.Run(ctx)

	handler := web.NewHandler(mainLogger, controller, store)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", viper.GetInt("http_port")),
		Handler: handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	mainLogger.Info("http", "url", fmt.Sprintf("http://localhost:%d", viper.GetInt("http_port")))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		mainLogger.Fatal("http server", "error", err.Error())
	}
}

func runListSessions(cmd *cobra.Command, args []string) {
	mainLogger, _, _ := createLoggers()

	ctx := context.Background()
	conn, store, err := db.OpenDatabase(ctx, viper.GetString("database_url"))
	if err != nil {
		mainLogger.Fatal("initialize database", "error", err.Error())
	}
	defer conn.Close(ctx)

	sessions, err := store.RecentSessions(ctx, 50)
	if err != nil {
		mainLogger.Fatal("fetch sessions", "error", err.Error())
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Created At", "Title", "Status", "Duration", "Engine"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, s := range sessions {
		table.Append([]string{
			s.ID,
			s.CreatedAt.Format("2006-01-02 15:04:05"),
			s.Title,
			s.Status,
			fmt.Sprintf("%d s", s.TotalDurationSec),
			s.SttEngineUsed,
		})
	}

	table.Render()
}

func runSummarize(cmd *cobra.Command, args []string) {
	mainLogger, _, _ := createLoggers()

	ctx := context.Background()
	conn, store, err := db.OpenDatabase(ctx, viper.GetString("database_url"))
	if err != nil {
		mainLogger.Fatal("initialize database", "error", err.Error())
	}
	defer conn.Close(ctx)

	model := llm.NewOpenAILanguageModel(viper.GetString("openai_api_key"))
	summarizer := llm.NewSummarizer(mainLogger, model, store)

	if err := summarizer.Summarize(ctx, args[0]); err != nil {
		mainLogger.Fatal("summarize", "error", err.Error())
	}

	row, err := store.GetSession(ctx, args[0])
	if err != nil {
		mainLogger.Fatal("fetch session", "error", err.Error())
	}
	fmt.Println(row.Summary)
}
