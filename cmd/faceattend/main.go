package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/logging"
)

const version = "0.1.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
)

// commandOrder is the order commands are listed in usage output.
var commandOrder = []string{"menu", "start", "enroll", "list", "download-models", "config", "version", "help"}

func init() {
	commands = map[string]*Command{
		"menu": {
			Name:        "menu",
			Description: "Interactive menu (default)",
			Usage:       "faceattend menu",
			Run:         cmdMenu,
		},
		"start": {
			Name:        "start",
			Description: "Start face recognition and log attendance",
			Usage:       "faceattend start",
			Run:         cmdStart,
		},
		"enroll": {
			Name:        "enroll",
			Description: "Load the known faces folder and show what was enrolled",
			Usage:       "faceattend enroll [dir]",
			Run:         cmdEnroll,
		},
		"list": {
			Name:        "list",
			Description: "List enrolled names",
			Usage:       "faceattend list [dir]",
			Run:         cmdList,
		},
		"download-models": {
			Name:        "download-models",
			Description: "Download the dlib face models",
			Usage:       "faceattend download-models [dir]",
			Run:         cmdDownloadModels,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "faceattend config",
			Run:         cmdConfig,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "faceattend version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "faceattend help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	// Parse global flags
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	args := flag.Args()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	cfg.ExpandPaths()

	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	logFile, err := logging.Init(logging.Options{
		Level:  logLevel,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer logFile.Close()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Debugf("faceattend v%s starting", version)
	logging.Debugf("Known faces: %s, attendance log: %s", cfg.Enrollment.Dir, cfg.Attendance.File)

	cmdName := "menu"
	if len(args) > 0 {
		cmdName = args[0]
		args = args[1:]
	}

	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	if err := cmd.Run(args); err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintln(os.Stderr, userError(err))
		logFile.Close()
		os.Exit(1)
	}
}

// userError renders err for the terminal.
func userError(err error) string {
	if errors.Is(err, camera.ErrCameraUnavailable) {
		return "Error: Could not access the webcam"
	}
	return fmt.Sprintf("Error: %v", err)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printUsage() {
	fmt.Println("faceattend - Face recognition attendance logger")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: faceattend [options] [command] [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>   Path to configuration file")
	fmt.Println("  -debug           Enable debug logging")
	fmt.Println("\nCommands:")
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Printf("  %-16s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nExamples:")
	fmt.Println("  faceattend                    # Open the interactive menu")
	fmt.Println("  faceattend start              # Recognize faces until 'q' is pressed")
	fmt.Println("  faceattend -debug enroll      # Enroll with debug output")
	fmt.Println("\nRun 'faceattend help <command>' for more information on a command.")
}

func cmdConfig(args []string) error {
	logging.Debug("Showing configuration")

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()
	fmt.Println("[Camera]")
	fmt.Printf("  Device:          %s\n", cfg.Camera.Device)
	fmt.Printf("  Resolution:      %dx%d @ %d FPS\n", cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	fmt.Printf("  Read Failures:   %d (retry every %s)\n", cfg.Camera.MaxReadFailures, cfg.Camera.ReadRetryDelay)
	fmt.Println()
	fmt.Println("[Recognition]")
	fmt.Printf("  Tolerance:       %.2f\n", cfg.Recognition.Tolerance)
	fmt.Printf("  Model Path:      %s\n", cfg.Recognition.ModelPath)
	fmt.Printf("  CNN Detector:    %t\n", cfg.Recognition.UseCNN)
	fmt.Println()
	fmt.Println("[Enrollment]")
	fmt.Printf("  Known Faces:     %s\n", cfg.Enrollment.Dir)
	fmt.Println()
	fmt.Println("[Attendance]")
	fmt.Printf("  File:            %s\n", cfg.Attendance.File)
	fmt.Printf("  Cooldown:        %s\n", cfg.Attendance.Cooldown)
	fmt.Println()
	fmt.Println("[Display]")
	fmt.Printf("  Enabled:         %t\n", cfg.Display.Enabled)
	fmt.Printf("  Window:          %s\n", cfg.Display.WindowTitle)
	fmt.Printf("  Stop Key:        %s\n", cfg.Display.StopKey)
	fmt.Println()
	fmt.Println("[Storage]")
	fmt.Printf("  Data Dir:        %s\n", cfg.Storage.DataDir)
	fmt.Printf("  Cache:           %t\n", cfg.Storage.CacheEnabled)
	fmt.Printf("  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Println()
	fmt.Println("[MQTT]")
	fmt.Printf("  Enabled:         %t\n", cfg.Notify.MQTT.Enabled)
	if cfg.Notify.MQTT.Enabled {
		fmt.Printf("  Broker:          %s:%d\n", cfg.Notify.MQTT.Broker, cfg.Notify.MQTT.Port)
		fmt.Printf("  Topic:           %s\n", cfg.Notify.MQTT.Topic)
	}
	fmt.Println()
	fmt.Println("[Logging]")
	fmt.Printf("  Level:           %s\n", cfg.Logging.Level)
	fmt.Printf("  Format:          %s\n", cfg.Logging.Format)
	fmt.Printf("  File:            %s\n", cfg.Logging.File)

	return nil
}

func cmdVersion(args []string) error {
	fmt.Printf("faceattend v%s\n", version)
	fmt.Println("Face recognition attendance logger")
	return nil
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Printf("Command: %s\n", cmd.Name)
	fmt.Printf("Description: %s\n", cmd.Description)
	fmt.Printf("Usage: %s\n", cmd.Usage)

	switch cmdName {
	case "start", "menu":
		fmt.Println()
		printHowTo(os.Stdout)
	case "enroll", "list":
		fmt.Println("\nEach image in the known faces folder is one person.")
		fmt.Println("The file name without extension is the name written to the log.")
		fmt.Println("Images without a detectable face are skipped.")
	case "config":
		fmt.Println("\nConfiguration Locations:")
		for _, p := range config.SearchPaths() {
			fmt.Printf("  %s\n", p)
		}
		fmt.Println("\nUse -config flag to specify a custom config file.")
		fmt.Printf("Environment variables prefixed with %s override file values (also read from .env).\n", config.EnvPrefix)
	}

	return nil
}
