package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	cachestore "github.com/toflar/http-cache-store"
	"github.com/toflar/http-cache-store/cache"
	"github.com/toflar/http-cache-store/lock"
)

var (
	configFlag         string
	originFlag         string
	portFlag           int
	cacheDirFlag       string
	redisFlag          string
	gzipLevelFlag      int
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&configFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&cacheDirFlag, "cache-dir", "cache-data", "Directory for the cache database and lock files")
	flag.StringVar(&redisFlag, "redis", "", "Redis URL for cache and locks (overrides cache-dir)")
	flag.IntVar(&gzipLevelFlag, "gzip", 0, "Gzip level for stored bodies (0 disables)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

type fileConfig struct {
	Origin           string `yaml:"origin"`
	Port             int    `yaml:"port"`
	CacheDir         string `yaml:"cacheDir"`
	Redis            string `yaml:"redis"`
	PruneThreshold   int    `yaml:"pruneThreshold"`
	DisableAutoPrune bool   `yaml:"disableAutoPrune"`
	TagHeader        string `yaml:"tagHeader"`
	GzipLevel        int    `yaml:"gzipLevel"`
}

func getConfig(filename string) (fileConfig, error) {
	var config fileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	config := fileConfig{
		Origin:    originFlag,
		Port:      portFlag,
		CacheDir:  cacheDirFlag,
		Redis:     redisFlag,
		GzipLevel: gzipLevelFlag,
	}
	if configFlag != "" {
		fromFile, err := getConfig(configFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not read config file")
		}
		config = fromFile
		if originFlag != "" {
			config.Origin = originFlag
		}
		if config.Port == 0 {
			config.Port = portFlag
		}
	}
	if config.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(config.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	storeConfig := cachestore.Config{
		CacheDir:         config.CacheDir,
		PruneThreshold:   config.PruneThreshold,
		DisableAutoPrune: config.DisableAutoPrune,
		TagHeader:        config.TagHeader,
		GzipLevel:        config.GzipLevel,
	}
	if config.Redis != "" {
		opts, err := redis.ParseURL(config.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not parse redis url")
		}
		client := redis.NewClient(opts)
		storeConfig.Cache = cache.NewRedisCache(client)
		storeConfig.Locker = lock.NewRedsyncLocker(client)
		storeConfig.CacheDir = ""
	}

	store, err := cachestore.New(storeConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create cache store")
	}

	proxy := newProxy(store, originURL)
	log.Info().Msgf("Proxying port %d to %s", config.Port, originURL)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", config.Port), proxy); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
