package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

const DefaultMaxLastMetrics = 2000

// Config carries the tunables of the cleanup subsystem. The zero value is not
// usable; construct through Default or LoadFromEnv.
type Config struct {
	// StoragePrefixes maps a url prefix to the storage backend that serves it.
	// Urls matching no prefix are never scheduled for deletion.
	StoragePrefixes map[string]string

	// MaxLastMetrics caps the unique-metrics set tracked per task. Zero
	// disables the cap.
	MaxLastMetrics int

	// AsyncDeleteEnabled gates scheduling of external storage deletes. When
	// off, cleanup reports urls but creates no deletion intents.
	AsyncDeleteEnabled bool

	// AsyncEventsDelete is forwarded to the event store on event deletion.
	AsyncEventsDelete bool
}

// Default returns the production defaults: the three cloud scheme prefixes
// plus http(s) routed to the internal fileserver.
func Default() *Config {
	return &Config{
		StoragePrefixes:    defaultStoragePrefixes(fileserverPrefixes()),
		MaxLastMetrics:     DefaultMaxLastMetrics,
		AsyncDeleteEnabled: true,
		AsyncEventsDelete:  false,
	}
}

// LoadFromEnv builds a Config from environment variables, falling back to the
// defaults for anything unset.
func LoadFromEnv() *Config {
	cfg := Default()

	if v, ok := os.LookupEnv("MAX_LAST_METRICS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Invalid MAX_LAST_METRICS value '%s', using default %d", v, DefaultMaxLastMetrics)
		} else {
			cfg.MaxLastMetrics = n
		}
	}

	cfg.AsyncDeleteEnabled = getBool("ASYNC_URLS_DELETE_ENABLED", cfg.AsyncDeleteEnabled)
	cfg.AsyncEventsDelete = getBool("ASYNC_EVENTS_DELETE", cfg.AsyncEventsDelete)

	if v, ok := os.LookupEnv("FILESERVER_URL_PREFIXES"); ok {
		var prefixes []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				prefixes = append(prefixes, p)
			}
		}
		cfg.StoragePrefixes = defaultStoragePrefixes(prefixes)
	}

	return cfg
}

func defaultStoragePrefixes(fileserver []string) map[string]string {
	prefixes := map[string]string{
		"s3://":    "s3",
		"azure://": "azure",
		"gs://":    "gs",
	}
	for _, p := range fileserver {
		prefixes[p] = "fileserver"
	}
	return prefixes
}

func fileserverPrefixes() []string {
	return []string{"https://", "http://"}
}

func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v == "true" || v == "1"
}
