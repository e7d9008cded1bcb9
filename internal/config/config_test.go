package config

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  port: "8080"
  metrics_port: "9090"

database:
  dsn: "postgres://localhost:5432/medlearn"
  max_open_conns: 20
  max_idle_conns: 10

redis:
  addr: "localhost:6379"
  db: 1

runtime:
  safe_mode_default: false

selection:
  default_challenge_low: 0.5
  default_challenge_high: 0.85
  min_theme_count: 3
  max_theme_count: 8

fsrs:
  desired_retention: 0.92
  personalization_min_reviews: 40

elo:
  initial_learner_rating: 1000
  initial_item_rating: 1000
  k_factor: 32

logging:
  level: "debug"
  format: "console"
`
				Expect(os.WriteFile(configFile, []byte(validConfig), 0644)).To(Succeed())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Server.Port).To(Equal("8080"))
				Expect(cfg.Server.MetricsPort).To(Equal("9090"))
				Expect(cfg.Database.DSN).To(Equal("postgres://localhost:5432/medlearn"))
				Expect(cfg.Database.MaxOpenConns).To(Equal(20))
				Expect(cfg.Redis.DB).To(Equal(1))
				Expect(cfg.Selection.MinThemeCount).To(Equal(3))
				Expect(cfg.Selection.MaxThemeCount).To(Equal(8))
				Expect(cfg.FSRS.DesiredRetention).To(Equal(0.92))
				Expect(cfg.Elo.KFactor).To(Equal(32.0))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Logging.Format).To(Equal("console"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
database:
  dsn: "postgres://localhost:5432/medlearn"
`
				Expect(os.WriteFile(configFile, []byte(minimalConfig), 0644)).To(Succeed())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Port).To(Equal("8080"))
				Expect(cfg.Selection.MinThemeCount).To(Equal(2))
				Expect(cfg.Selection.MaxThemeCount).To(Equal(6))
				Expect(cfg.FSRS.DesiredRetention).To(Equal(0.90))
				Expect(cfg.Elo.KFactor).To(Equal(24.0))
				Expect(cfg.Logging.Format).To(Equal("json"))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  port: "8080"
  invalid_yaml: [
database:
  dsn: "test"
`
				Expect(os.WriteFile(configFile, []byte(invalidConfig), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when required database DSN is missing", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(configFile, []byte("server:\n  port: \"8080\"\n"), 0644)).To(Succeed())
			})

			It("should return a validation error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("database DSN is required"))
			})
		})
	})

	Describe("validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = &Config{
				Database: DatabaseConfig{DSN: "postgres://x", MaxOpenConns: 10},
				Selection: SelectionConfig{
					DefaultChallengeLow:  0.55,
					DefaultChallengeHigh: 0.80,
					MinThemeCount:        2,
					MaxThemeCount:        6,
				},
				FSRS:    FSRSConfig{DesiredRetention: 0.9},
				Logging: LoggingConfig{Format: "json"},
			}
		})

		It("passes for a valid config", func() {
			Expect(validate(cfg)).To(Succeed())
		})

		It("rejects an inverted challenge band", func() {
			cfg.Selection.DefaultChallengeLow = 0.9
			cfg.Selection.DefaultChallengeHigh = 0.5
			err := validate(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("less than default_challenge_high"))
		})

		It("rejects max_theme_count below min_theme_count", func() {
			cfg.Selection.MaxThemeCount = 1
			err := validate(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("max_theme_count must be >= min_theme_count"))
		})

		It("rejects an unsupported logging format", func() {
			cfg.Logging.Format = "xml"
			err := validate(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported logging format"))
		})
	})

	Describe("loadFromEnv", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = &Config{}
			os.Clearenv()
		})

		AfterEach(func() {
			os.Clearenv()
		})

		It("applies overrides from the environment", func() {
			os.Setenv("DATABASE_DSN", "postgres://env/db")
			os.Setenv("SERVER_PORT", "9999")
			os.Setenv("LOG_LEVEL", "warn")
			os.Setenv("SAFE_MODE_DEFAULT", "true")

			Expect(loadFromEnv(cfg)).To(Succeed())

			Expect(cfg.Database.DSN).To(Equal("postgres://env/db"))
			Expect(cfg.Server.Port).To(Equal("9999"))
			Expect(cfg.Logging.Level).To(Equal("warn"))
			Expect(cfg.Runtime.SafeModeDefault).To(BeTrue())
		})

		It("returns an error for an unparsable boolean", func() {
			os.Setenv("SAFE_MODE_DEFAULT", "not-a-bool")
			err := loadFromEnv(cfg)
			Expect(err).To(HaveOccurred())
		})

		It("leaves the config untouched with no environment set", func() {
			original := *cfg
			Expect(loadFromEnv(cfg)).To(Succeed())
			Expect(*cfg).To(Equal(original))
		})
	})
})
