// cmd/relay/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"attendance-relay/internal/autostart"
	"attendance-relay/internal/config"
	"attendance-relay/internal/di"
	"attendance-relay/internal/utils"

	"github.com/spf13/pflag"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		utils.Logger.WithError(err).Error("Relay stopped")
		os.Exit(1)
	}
}

func run() error {
	var install, uninstall bool
	var envFile, devicesFile string

	flagSet := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	flagSet.BoolVar(&install, "install", false, "register the relay to start with the OS and exit")
	flagSet.BoolVar(&uninstall, "uninstall", false, "remove the OS autostart entry and exit")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flagSet.StringVar(&devicesFile, "devices", "", "device list (JSON with comments, or YAML); overrides DEVICES_FILE")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if install && uninstall {
		return fmt.Errorf("--install and --uninstall are mutually exclusive")
	}

	// 설정 로드
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if devicesFile != "" {
		cfg.DevicesFile = devicesFile
	}

	utils.SetupLogger(cfg.LogLevel)
	logFile, err := utils.AttachLogFile(cfg.LogDir)
	if err != nil {
		utils.Logger.WithError(err).Warn("File logging disabled")
	} else {
		defer logFile.Close()
	}

	if install || uninstall {
		return runAutostart(install, envFile, devicesFile)
	}

	// DI 컨테이너 생성
	container, err := di.NewContainer(cfg)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container.Start(ctx)
	utils.Logger.Info("Attendance relay started")

	// 종료 신호 대기
	<-ctx.Done()
	stop()

	container.Shutdown(shutdownTimeout)
	utils.Logger.Info("Attendance relay stopped")
	return nil
}

func runAutostart(install bool, envFile, devicesFile string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	var args []string
	if abs, err := filepath.Abs(envFile); err == nil {
		args = append(args, "--env-file", abs)
	}
	if devicesFile != "" {
		if abs, err := filepath.Abs(devicesFile); err == nil {
			args = append(args, "--devices", abs)
		}
	}

	installer := autostart.New(exe, args)
	if install {
		return installer.Install()
	}
	return installer.Uninstall()
}
