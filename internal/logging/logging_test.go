package logging_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zapcore"

	"github.com/jordigilh/medlearn-core/internal/config"
	"github.com/jordigilh/medlearn-core/internal/logging"
)

func TestLogging(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logging Suite")
}

var _ = Describe("New", func() {
	It("builds a logger at the configured level", func() {
		log, atomicLevel, err := logging.New(config.LoggingConfig{Level: "info", Format: "json"})
		Expect(err).NotTo(HaveOccurred())
		Expect(log).NotTo(BeNil())
		Expect(atomicLevel.Level()).To(Equal(zapcore.InfoLevel))
	})

	It("supports the console format", func() {
		_, _, err := logging.New(config.LoggingConfig{Level: "debug", Format: "console"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects an invalid level", func() {
		_, _, err := logging.New(config.LoggingConfig{Level: "not-a-level", Format: "json"})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("SetLevel", func() {
	It("adjusts the atomic level after construction", func() {
		_, atomicLevel, err := logging.New(config.LoggingConfig{Level: "info", Format: "json"})
		Expect(err).NotTo(HaveOccurred())

		Expect(logging.SetLevel(atomicLevel, "debug")).To(Succeed())
		Expect(atomicLevel.Level()).To(Equal(zapcore.DebugLevel))
	})

	It("leaves the level unchanged on an invalid update", func() {
		_, atomicLevel, err := logging.New(config.LoggingConfig{Level: "warn", Format: "json"})
		Expect(err).NotTo(HaveOccurred())

		Expect(logging.SetLevel(atomicLevel, "bogus")).To(HaveOccurred())
		Expect(atomicLevel.Level()).To(Equal(zapcore.WarnLevel))
	})
})
