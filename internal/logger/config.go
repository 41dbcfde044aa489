// internal/logger/config.go
package logger

type Config struct {
	LogFile     string
	MaxSize     int  // megabytes
	MaxAge      int  // days
	MaxBackups  int  // rotated files to keep
	Compress    bool // gzip rotated files
	Development bool
}

func DefaultConfig() *Config {
	return &Config{
		LogFile:     "pricebot.log",
		MaxSize:     100,
		MaxAge:      7,
		MaxBackups:  3,
		Compress:    true,
		Development: false,
	}
}
