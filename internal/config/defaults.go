package config

import "runtime"

const (
	defaultConfigPath              = "~/.config/encodetalker/config.toml"
	defaultDataDir                 = "~/.local/share/encodetalker"
	defaultPipeName                = `\\.\pipe\encodetalker`
	defaultMaxConcurrentJobs       = 1
	defaultAutoSaveIntervalSeconds = 10
	defaultShutdownGraceSeconds    = 30
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultEncoder                 = "svt-av1"
	defaultAudioMode               = "opus"
	defaultAudioBitrate            = 128
	defaultAudioCodec              = "aac"
	defaultOutputSuffix            = ".av1"
	defaultOutputContainer         = ".mkv"
	defaultPreciseCountTimeout     = 300
	defaultSvtPreset               = 6
	defaultSvtCRF                  = 30
	defaultAomCPUUsed              = 4
	defaultAomCRF                  = 30
	defaultFFmpegSource            = SourceSystem
	defaultEncoderSource           = SourceCompiled
	defaultMetricsListen           = "127.0.0.1:9464"
)

// Binary sources.
const (
	SourceSystem   = "system"
	SourceCompiled = "compiled"
)

// Default returns a Config populated with repository defaults. Derived paths
// stay empty until normalization places them under the data directory.
func Default() Config {
	return Config{
		Daemon: Daemon{
			MaxConcurrentJobs:       defaultMaxConcurrentJobs,
			AutoSaveIntervalSeconds: defaultAutoSaveIntervalSeconds,
			ShutdownGraceSeconds:    defaultShutdownGraceSeconds,
		},
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Encoding: Encoding{
			DefaultEncoder:                  defaultEncoder,
			DefaultAudioMode:                defaultAudioMode,
			DefaultAudioBitrate:             defaultAudioBitrate,
			DefaultAudioCodec:               defaultAudioCodec,
			OutputSuffix:                    defaultOutputSuffix,
			OutputContainer:                 defaultOutputContainer,
			PreciseFrameCountTimeoutSeconds: defaultPreciseCountTimeout,
		},
		Encoder: Encoders{
			SvtAv1: SvtAv1{
				Preset: defaultSvtPreset,
				CRF:    defaultSvtCRF,
				Params: []string{"--keyint", "240", "--tune", "3"},
			},
			Aom: Aom{
				CPUUsed: defaultAomCPUUsed,
				CRF:     defaultAomCRF,
			},
		},
		Binaries: Binaries{
			FFmpegSource: defaultFFmpegSource,
			SvtAv1Source: defaultEncoderSource,
			AomSource:    defaultEncoderSource,
		},
		Metrics: Metrics{
			Listen: defaultMetricsListen,
		},
	}
}

func defaultSocketPath(dataDir string) string {
	if runtime.GOOS == "windows" {
		return defaultPipeName
	}
	return joinPath(dataDir, "daemon.sock")
}
