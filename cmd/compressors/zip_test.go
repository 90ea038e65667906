package compressors

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeka/zip"

	"github.com/efektum/mystery-hours/cmd/testutil"
)

func writeFiles(t *testing.T, dir string, files map[string][]byte) []string {
	t.Helper()
	var paths []string
	for name, data := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o644))
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func readArchive(t *testing.T, path, password string) (map[string][]byte, error) {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := make(map[string][]byte)
	for _, f := range r.File {
		assert.True(t, f.IsEncrypted(), "entry %s should be encrypted", f.Name)
		f.SetPassword(password)

		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		out[f.Name] = data
	}
	return out, nil
}

func TestPassword(t *testing.T) {
	tests := []struct {
		year int
		want string
	}{
		{2026, "TMPL@0@6"},
		{2025, "TMPL@0@5"},
		{2222, "TMPL@@@@"},
		{1999, "TMPL1999"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Password(DefaultPasswordPrefix, tt.year))
		})
	}
}

func TestZipArchiver(t *testing.T) {
	files := map[string][]byte{
		"reports/Godziny_2026_02_12_14_05_09.xlsx":      []byte("PK fake workbook one"),
		"nested/Audyty_2026_02_12_14_05_09.xlsx":        []byte("second workbook, żółć"),
		"reports/Puste_arkusze_2026_02_12_14_05_10.csv": {},
	}
	password := Password(DefaultPasswordPrefix, 2026)

	t.Run("RoundTrip", func(t *testing.T) {
		src := t.TempDir()
		paths := writeFiles(t, src, files)
		scratch := filepath.Join(t.TempDir(), "temp")

		a := NewZipArchiver(scratch, DefaultArchivePrefix, testutil.FixedClock())

		archivePath, err := a.Archive(paths, password)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(scratch, "MS_Godziny_2026_02_12_14_05_09.zip"), archivePath)

		got, err := readArchive(t, archivePath, password)
		require.NoError(t, err)
		require.Len(t, got, len(files))
		for name, data := range files {
			assert.Equal(t, data, got[filepath.Base(name)], name)
		}
	})

	t.Run("WrongPasswordFails", func(t *testing.T) {
		paths := writeFiles(t, t.TempDir(), files)

		a := NewZipArchiver(t.TempDir(), "", testutil.FixedClock())

		archivePath, err := a.Archive(paths, password)
		require.NoError(t, err)

		_, err = readArchive(t, archivePath, "TMPL2026")
		assert.Error(t, err)
	})

	t.Run("NoFiles", func(t *testing.T) {
		dir := t.TempDir()
		a := NewZipArchiver(dir, DefaultArchivePrefix, testutil.FixedClock())

		_, err := a.Archive(nil, password)
		assert.ErrorIs(t, err, ErrNoFiles)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("EmptyPassword", func(t *testing.T) {
		paths := writeFiles(t, t.TempDir(), files)
		a := NewZipArchiver(t.TempDir(), DefaultArchivePrefix, testutil.FixedClock())

		_, err := a.Archive(paths, "")
		assert.ErrorIs(t, err, ErrEmptyPassword)
	})

	t.Run("MissingFileRemovesPartialArchive", func(t *testing.T) {
		paths := writeFiles(t, t.TempDir(), files)
		paths = append(paths, filepath.Join(t.TempDir(), "missing.xlsx"))
		out := t.TempDir()

		a := NewZipArchiver(out, DefaultArchivePrefix, testutil.FixedClock())

		_, err := a.Archive(paths, password)
		require.Error(t, err)

		entries, err := os.ReadDir(out)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("DuplicateBaseNames", func(t *testing.T) {
		src := t.TempDir()
		paths := writeFiles(t, src, map[string][]byte{
			"a/Godziny.xlsx": []byte("1"),
			"b/Godziny.xlsx": []byte("2"),
		})

		a := NewZipArchiver(t.TempDir(), DefaultArchivePrefix, testutil.FixedClock())

		_, err := a.Archive(paths, password)
		assert.ErrorIs(t, err, ErrDuplicateEntry)
	})
}

func TestGzipFile(t *testing.T) {
	payload := bytes.Repeat([]byte("2026-02-12 14:05:09 INFO [core] 🚀 started\n"), 200)

	t.Run("RoundTrip", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "app.log")
		require.NoError(t, os.WriteFile(src, payload, 0o644))
		dst := src + GzipExtension

		require.NoError(t, GzipFile(src, dst, DefaultLevel))
		assert.FileExists(t, src)

		info, err := os.Stat(dst)
		require.NoError(t, err)
		assert.Less(t, info.Size(), int64(len(payload)))

		f, err := os.Open(dst)
		require.NoError(t, err)
		defer f.Close()
		zr, err := gzip.NewReader(f)
		require.NoError(t, err)
		got, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("MissingSource", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "app.log.gz")

		assert.Error(t, GzipFile(filepath.Join(dir, "missing.log"), dst, DefaultLevel))
		assert.NoFileExists(t, dst)
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "app.log")
		require.NoError(t, os.WriteFile(src, payload, 0o644))

		assert.ErrorIs(t, GzipFile(src, src+GzipExtension, 10), ErrCompressionLevelInvalid)
		assert.NoFileExists(t, src+GzipExtension)
	})
}

func TestValidateLevel(t *testing.T) {
	for _, level := range []int{-2, -1, 0, 1, 9} {
		assert.NoError(t, ValidateLevel(level), "level %d", level)
	}
	for _, level := range []int{-3, 10, 22} {
		assert.ErrorIs(t, ValidateLevel(level), ErrCompressionLevelInvalid, "level %d", level)
	}
}
