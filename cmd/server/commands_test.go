package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/database"
	"github.com/charlesng35/liveclass/internal/models"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()

	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	require.Subset(t, names, []string{"serve", "migrate", "sweep"})
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
	require.NotNil(t, root.PersistentFlags().Lookup("env-file"))

	sweep, _, err := root.Find([]string{"sweep"})
	require.NoError(t, err)
	flag := sweep.Flags().Lookup("retention")
	require.NotNil(t, flag)
	require.Equal(t, "true", flag.DefValue)
}

func TestLoadEnvFilesDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("LIVECLASS_TEST_FROM_FILE=file\nLIVECLASS_TEST_PRESET=file\n"), 0o600))

	t.Setenv("LIVECLASS_TEST_PRESET", "shell")
	t.Cleanup(func() { _ = os.Unsetenv("LIVECLASS_TEST_FROM_FILE") })

	require.NoError(t, loadEnvFiles([]string{envFile}))
	require.Equal(t, "file", os.Getenv("LIVECLASS_TEST_FROM_FILE"))
	require.Equal(t, "shell", os.Getenv("LIVECLASS_TEST_PRESET"))

	require.Error(t, loadEnvFiles([]string{filepath.Join(dir, "missing.env")}))
}

func TestLoadEnvFilesDefaultIsOptional(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, loadEnvFiles(nil))
}

func writeSQLiteConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "liveclass.sqlite")
	config := "database:\n  driver: sqlite\n  path: " + dbPath + "\nscheduler:\n  enabled: false\nretention:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(config), 0o600))
	return dir, dbPath
}

func TestMigrateCommandCreatesSchema(t *testing.T) {
	configDir, dbPath := writeSQLiteConfig(t)

	root := newRootCommand()
	root.SetArgs([]string{"migrate", "--config", configDir})
	require.NoError(t, root.ExecuteContext(context.Background()))

	db, err := database.Open(database.Config{Driver: "sqlite", Path: dbPath})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.True(t, db.Migrator().HasTable(&models.VideoSession{}))
	require.True(t, db.Migrator().HasTable(&models.WhiteboardRoom{}))
	require.True(t, db.Migrator().HasTable(&models.Notification{}))
}

func TestSweepCommandRunsOnce(t *testing.T) {
	configDir, _ := writeSQLiteConfig(t)

	root := newRootCommand()
	root.SetArgs([]string{"sweep", "--config", configDir})
	require.NoError(t, root.ExecuteContext(context.Background()))
}

func TestCommandRejectsMissingConfig(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"migrate", "--config", filepath.Join(t.TempDir(), "nope")})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "does not exist")
}
