package logging_helper

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/wenjunxiao/trade-calendar/go_src/configuration"
)

func getDefaultTestLogConfig(logPath string) configuration.Logging {
	return configuration.Logging{
		Level:         "debug",
		FilePath:      logPath,
		RotationSize:  1,
		MaxBackups:    2,
		ConsoleOutput: false,
	}
}

// restoreLogrus puts the global logger back after a test reconfigures it.
func restoreLogrus(t *testing.T) {
	t.Helper()
	out, level, formatter := logrus.StandardLogger().Out, logrus.GetLevel(), logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetOutput(out)
		logrus.SetLevel(level)
		logrus.SetFormatter(formatter)
	})
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Could not read log file %s: %v", path, err)
	}
	return string(data)
}

func TestSetupLogging_Success(t *testing.T) {
	restoreLogrus(t)
	tempDir := t.TempDir()
	appName := "calendar-manager"

	closer, err := SetupLogging(getDefaultTestLogConfig(tempDir), appName)
	if err != nil {
		t.Fatalf("SetupLogging failed: %v", err)
	}
	defer closer.Close()

	expectedLogFile := filepath.Join(tempDir, appName, appName+".log")
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected log level Debug, got %s", logrus.GetLevel())
	}

	testMessage := "Trade date changed for XNYS"
	logrus.Info(testMessage)

	content := readLog(t, expectedLogFile)
	if !strings.Contains(content, testMessage) {
		t.Errorf("Log file does not contain %q:\n%s", testMessage, content)
	}
	if !strings.Contains(content, "Started "+appName+" application") {
		t.Error("Expected the start banner in the log file")
	}
}

func TestSetupLogging_DefaultsAndWarnings(t *testing.T) {
	restoreLogrus(t)
	tempDir := t.TempDir()
	logConfig := configuration.Logging{Level: "chatty", FilePath: tempDir, Format: "json"}

	closer, err := SetupLogging(logConfig, "query")
	if err != nil {
		t.Fatalf("SetupLogging failed: %v", err)
	}
	defer closer.Close()

	if logrus.GetLevel() != logrus.InfoLevel {
		t.Errorf("Expected fallback level Info, got %s", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("Expected a JSON formatter, got %T", logrus.StandardLogger().Formatter)
	}
	content := readLog(t, filepath.Join(tempDir, "query", "query.log"))
	for _, want := range []string{"rotation_size is invalid", "max_backups is invalid", "Invalid log level 'chatty'"} {
		if !strings.Contains(content, want) {
			t.Errorf("Expected warning %q in log:\n%s", want, content)
		}
	}
}

func TestSetupLogging_Errors(t *testing.T) {
	restoreLogrus(t)
	if _, err := SetupLogging(getDefaultTestLogConfig(t.TempDir()), ""); err == nil {
		t.Error("Expected an error for an empty app name")
	}
	if _, err := SetupLogging(configuration.Logging{Level: "info"}, "app"); err == nil {
		t.Error("Expected an error for a missing file path")
	}

	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := SetupLogging(getDefaultTestLogConfig(blocker), "app"); err == nil {
		t.Error("Expected an error when the log directory cannot be created")
	}
}
