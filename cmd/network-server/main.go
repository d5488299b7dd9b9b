package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-pro/internal/appdispatch"
	"github.com/lorawan-server/lorawan-server-pro/internal/config"
	"github.com/lorawan-server/lorawan-server-pro/internal/engine"
	"github.com/lorawan-server/lorawan-server-pro/internal/machandler"
	"github.com/lorawan-server/lorawan-server-pro/internal/region"
	"github.com/lorawan-server/lorawan-server-pro/internal/server"
	"github.com/lorawan-server/lorawan-server-pro/internal/storage"
)

func main() {
	var configPath = flag.String("config", "config/network-server.yml", "配置文件路径")
	var validateOnly = flag.Bool("validate", false, "仅验证配置文件")
	var showConfig = flag.Bool("show-config", false, "显示配置并退出")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("加载配置失败")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("无效的日志级别，使用info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}

	if *validateOnly {
		cfg.PrintConfigSummary()
		if _, err := region.Get(cfg.Network.Region); err != nil {
			log.Fatal().Err(err).Msg("默认区域配置无效")
		}
		fmt.Println("✅ 配置文件验证通过")
		return
	}

	netID, err := cfg.Network.NetID()
	if err != nil {
		log.Fatal().Err(err).Msg("解析 NetID 失败")
	}
	if _, err := region.Get(cfg.Network.Region); err != nil {
		log.Fatal().Err(err).Msg("默认区域配置无效")
	}

	log.Info().
		Str("config_path", *configPath).
		Str("region", cfg.Network.Region).
		Msg("Network Server 启动")

	store, err := storage.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("连接数据库失败")
	}
	defer store.Close()

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.ReconnectWait(cfg.NATS.ReconnectInterval),
		nats.MaxReconnects(cfg.NATS.MaxReconnects))
	if err != nil {
		log.Fatal().Err(err).Msg("连接NATS失败")
	}
	defer nc.Close()

	eng := engine.New(engine.Deps{
		Store:              store,
		Region:             region.Get,
		MACHandler:         machandler.NewDefaultHandler(),
		Dispatcher:         appdispatch.NewNATSDispatcher(nc),
		NetID:              netID,
		PreprocessingDelay: cfg.Network.PreprocessingDelay,
	})

	bridge := server.NewGatewayBridgeSubscriber(nc, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := bridge.Start(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("网关订阅器停止")
			cancel()
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("收到退出信号，正在关闭...")
	case <-ctx.Done():
		log.Info().Msg("上下文取消，正在关闭...")
	}

	cancel()
	log.Info().Msg("Network Server 已关闭")
}
