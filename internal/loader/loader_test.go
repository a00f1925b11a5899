package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hse-launcher/instance-builder/internal/metadata"
	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/utils/file"
	"github.com/hse-launcher/instance-builder/internal/utils/shell"
)

// upstream serves fixed bodies by path and 404s everything else.
type upstream struct {
	*httptest.Server
	mu     sync.Mutex
	routes map[string][]byte
}

func newUpstream(t *testing.T) *upstream {
	u := &upstream{routes: make(map[string][]byte)}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		body, ok := u.routes[r.URL.Path]
		u.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) add(path string, body []byte) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.routes[path] = body
	return u.URL + path
}

func (u *upstream) options(ref *metadata.VersionInfo) Options {
	return Options{
		Name:      "Test",
		Reference: ref,
		Client:    u.Client(),
		Workers:   2,
		Endpoints: Endpoints{
			Resources:       u.URL + "/resources",
			FabricMeta:      u.URL + "/fabric",
			ForgeMaven:      u.URL + "/forge",
			ForgePromotions: u.URL + "/forge/promotions_slim.json",
			NeoForgeMaven:   u.URL + "/neoforge",
			NeoForgeAPI:     u.URL + "/neoforge/api",
		},
	}
}

// serveVanilla publishes a small 1.20.1 and returns its manifest entry.
func serveVanilla(t *testing.T, u *upstream) *metadata.VersionInfo {
	t.Helper()
	object := []byte("sound")
	objectHash := file.HashBytes(object)
	u.add("/resources/"+objectHash[:2]+"/"+objectHash, object)

	index := []byte(`{"objects": {"minecraft/sounds/a.ogg": {"hash": "` + objectHash + `", "size": 5}}}`)
	indexURL := u.add("/indexes/5.json", index)

	client := []byte("client")
	clientURL := u.add("/client.jar", client)
	lib := []byte("lib")
	libURL := u.add("/libs/com/example/lib/1/lib-1.jar", lib)
	natives := []byte("natives")
	nativesURL := u.add("/libs/natives-linux.jar", natives)

	md := fmt.Sprintf(`{
  "id": "1.20.1",
  "mainClass": "net.minecraft.client.main.Main",
  "downloads": {"client": {"url": %q, "sha1": %q, "size": 6}},
  "assetIndex": {"id": "5", "url": %q, "sha1": %q},
  "libraries": [
    {"name": "com.example:lib:1", "downloads": {"artifact": {"path": "com/example/lib/1/lib-1.jar", "url": %q, "sha1": %q}}},
    {"name": "org.lwjgl:lwjgl:2.9.4", "downloads": {"classifiers": {"natives-linux": {"url": %q, "sha1": %q}}}}
  ]
}`, clientURL, file.HashBytes(client), indexURL, file.HashBytes(index), libURL, file.HashBytes(lib), nativesURL, file.HashBytes(natives))

	mdURL := u.add("/v/1.20.1.json", []byte(md))
	return &metadata.VersionInfo{ID: "1.20.1", Type: "release", URL: mdURL, SHA1: file.HashBytes([]byte(md))}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"vanilla", Vanilla},
		{"fabric", Fabric},
		{"forge", Forge},
		{"neoforge", NeoForge},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.name, got.String())
	}

	for _, name := range []string{"quilt", "Fabric", "FORGE", " vanilla", ""} {
		_, err := ParseKind(name)
		assert.ErrorIs(t, err, ErrUnknownLoader, name)
	}
}

func TestVanillaGenerate(t *testing.T) {
	u := newUpstream(t)
	ref := serveVanilla(t, u)
	workDir := t.TempDir()

	res, err := New(Vanilla, u.options(ref)).Generate(context.Background(), workDir)
	require.NoError(t, err)
	require.Len(t, res.Metadata, 1)
	assert.Equal(t, "1.20.1", res.Metadata[0].ID)
	assert.Empty(t, res.ExtraLibsPaths)

	libs := paths.LibrariesDir(workDir)
	for _, p := range []string{
		paths.MetadataPath(paths.VersionsDir(workDir), "1.20.1"),
		paths.ClientJarPath(workDir, "1.20.1"),
		paths.AssetIndexPath(paths.AssetsDir(workDir), "5"),
		paths.AssetObjectPath(paths.AssetsDir(workDir), file.HashBytes([]byte("sound"))),
		filepath.Join(libs, "com", "example", "lib", "1", "lib-1.jar"),
		filepath.Join(libs, "org", "lwjgl", "lwjgl", "2.9.4", "lwjgl-2.9.4-natives-linux.jar"),
	} {
		assert.FileExists(t, p)
	}

	// metadata is kept exactly as served
	saved, err := file.HashFile(paths.MetadataPath(paths.VersionsDir(workDir), "1.20.1"))
	require.NoError(t, err)
	assert.Equal(t, ref.SHA1, saved)
}

func TestVanillaMissingReference(t *testing.T) {
	u := newUpstream(t)
	_, err := New(Vanilla, u.options(nil)).Generate(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrMissingReference)
}

func TestVanillaChecksumMismatch(t *testing.T) {
	u := newUpstream(t)
	ref := serveVanilla(t, u)
	ref.SHA1 = strings.Repeat("0", 40)

	_, err := New(Vanilla, u.options(ref)).Generate(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestFabricGenerate(t *testing.T) {
	u := newUpstream(t)
	ref := serveVanilla(t, u)
	u.add("/fabric/v2/versions/loader/1.20.1", []byte(`[
		{"loader": {"version": "0.16.0", "stable": false}},
		{"loader": {"version": "0.15.11", "stable": true}}
	]`))
	u.add("/maven/net/fabricmc/fabric-loader/0.15.11/fabric-loader-0.15.11.jar", []byte("loader"))
	u.add("/fabric/v2/versions/loader/1.20.1/0.15.11/profile/json", []byte(`{
		"id": "fabric-loader-0.15.11-1.20.1",
		"inheritsFrom": "1.20.1",
		"mainClass": "net.fabricmc.loader.impl.launch.knot.KnotClient",
		"libraries": [{"name": "net.fabricmc:fabric-loader:0.15.11", "url": "`+u.URL+`/maven/"}]
	}`))

	workDir := t.TempDir()
	res, err := New(Fabric, u.options(ref)).Generate(context.Background(), workDir)
	require.NoError(t, err)
	require.Len(t, res.Metadata, 2)
	assert.Equal(t, "1.20.1", res.Metadata[0].ID)
	assert.Equal(t, "fabric-loader-0.15.11-1.20.1", res.Metadata[1].ID)
	assert.True(t, res.Metadata[1].Libraries[0].IsLegacy())

	assert.FileExists(t, filepath.Join(paths.LibrariesDir(workDir), "net", "fabricmc", "fabric-loader", "0.15.11", "fabric-loader-0.15.11.jar"))
	assert.FileExists(t, paths.MetadataPath(paths.VersionsDir(workDir), "fabric-loader-0.15.11-1.20.1"))
}

func TestFabricNoStableLoader(t *testing.T) {
	u := newUpstream(t)
	ref := serveVanilla(t, u)
	u.add("/fabric/v2/versions/loader/1.20.1", []byte(`[{"loader": {"version": "0.16.0", "stable": false}}]`))

	_, err := New(Fabric, u.options(ref)).Generate(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoLoaderVersion)
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func serveForge(t *testing.T, u *upstream) {
	t.Helper()
	u.add("/forge/promotions_slim.json", []byte(`{"promos": {"1.20.1-latest": "47.3.0", "1.20.1-recommended": "47.2.0"}}`))

	procJar := buildZip(t, map[string]string{"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\nMain-Class: net.minecraftforge.Patcher\n"})
	procURL := u.add("/forge/net/minecraftforge/patcher/1/patcher-1.jar", procJar)

	helloSHA := file.HashBytes([]byte("hello"))
	profile := fmt.Sprintf(`{
  "spec": 1,
  "json": "/version.json",
  "data": {
    "PATCHED": {"client": "[net.minecraftforge:forge:1.20.1-47.2.0:client]", "server": "[x:y:1]"},
    "PATCHED_SHA": {"client": "'%s'", "server": "''"},
    "BINPATCH": {"client": "/data/client.lzma", "server": "/data/server.lzma"}
  },
  "processors": [
    {"jar": "net.minecraftforge:patcher:1", "classpath": [], "args": ["--clean", "{MINECRAFT_JAR}", "--patch", "{BINPATCH}", "--out", "{PATCHED}"], "outputs": {"{PATCHED}": "{PATCHED_SHA}"}},
    {"sides": ["server"], "jar": "net.minecraftforge:patcher:1", "args": ["--server"]}
  ],
  "libraries": [
    {"name": "net.minecraftforge:patcher:1", "downloads": {"artifact": {"path": "net/minecraftforge/patcher/1/patcher-1.jar", "url": %q, "sha1": %q}}}
  ]
}`, helloSHA, procURL, file.HashBytes(procJar))

	version := `{
  "id": "1.20.1-forge-47.2.0",
  "inheritsFrom": "1.20.1",
  "libraries": [
    {"name": "net.minecraftforge:forge:1.20.1-47.2.0:client", "downloads": {"artifact": {"path": "net/minecraftforge/forge/1.20.1-47.2.0/forge-1.20.1-47.2.0-client.jar", "url": "", "sha1": "` + helloSHA + `"}}},
    {"name": "net.minecraftforge:forge:1.20.1-47.2.0:universal", "downloads": {"artifact": {"path": "net/minecraftforge/forge/1.20.1-47.2.0/forge-1.20.1-47.2.0-universal.jar", "url": ""}}}
  ]
}`

	installer := buildZip(t, map[string]string{
		"install_profile.json": profile,
		"version.json":         version,
		"data/client.lzma":     "patch",
		"maven/net/minecraftforge/forge/1.20.1-47.2.0/forge-1.20.1-47.2.0-universal.jar": "universal",
	})
	u.add("/forge/net/minecraftforge/forge/1.20.1-47.2.0/forge-1.20.1-47.2.0-installer.jar", installer)
}

func TestForgeGenerate(t *testing.T) {
	u := newUpstream(t)
	ref := serveVanilla(t, u)
	serveForge(t, u)
	workDir := t.TempDir()

	var (
		calls     int
		patchSeen bool
		mainClass string
	)
	saved := shell.ExecArgs
	t.Cleanup(func() { shell.ExecArgs = saved })
	shell.ExecArgs = func(ctx context.Context, dir, name string, args ...string) (string, error) {
		calls++
		assert.Equal(t, "java", name)
		mainClass = args[2]
		for i, a := range args {
			switch a {
			case "--patch":
				_, err := os.Stat(args[i+1])
				patchSeen = err == nil
			case "--out":
				require.NoError(t, os.MkdirAll(filepath.Dir(args[i+1]), 0755))
				require.NoError(t, os.WriteFile(args[i+1], []byte("hello"), 0644))
			}
		}
		return "", nil
	}

	res, err := New(Forge, u.options(ref)).Generate(context.Background(), workDir)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "server processors are skipped")
	assert.True(t, patchSeen, "installer data is extracted before the processor runs")
	assert.Equal(t, "net.minecraftforge.Patcher", mainClass)

	require.Len(t, res.Metadata, 2)
	assert.Equal(t, "1.20.1-forge-47.2.0", res.Metadata[1].ID)

	forgeDir := filepath.Join(paths.LibrariesDir(workDir), "net", "minecraftforge", "forge", "1.20.1-47.2.0")
	assert.ElementsMatch(t, []string{
		filepath.Join(forgeDir, "forge-1.20.1-47.2.0-client.jar"),
		filepath.Join(forgeDir, "forge-1.20.1-47.2.0-universal.jar"),
	}, res.ExtraLibsPaths)

	// outputs already match, so a second run skips the processor
	_, err = New(Forge, u.options(ref)).Generate(context.Background(), workDir)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestForgeProcessorFailureIsFatal(t *testing.T) {
	u := newUpstream(t)
	ref := serveVanilla(t, u)
	serveForge(t, u)

	boom := errors.New("java exited with 1")
	saved := shell.ExecArgs
	t.Cleanup(func() { shell.ExecArgs = saved })
	shell.ExecArgs = func(context.Context, string, string, ...string) (string, error) { return "", boom }

	_, err := New(Forge, u.options(ref)).Generate(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, boom)
}

func TestForgeUnknownGameVersion(t *testing.T) {
	u := newUpstream(t)
	ref := serveVanilla(t, u)
	u.add("/forge/promotions_slim.json", []byte(`{"promos": {"1.19.2-latest": "43.3.0"}}`))

	_, err := New(Forge, u.options(ref)).Generate(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoLoaderVersion)
}

func TestLatestNeoForge(t *testing.T) {
	versions := []string{"20.4.80-beta", "20.4.237", "20.4.190", "20.6.1-beta", "21.0.1-beta", "21.0.3-beta", "not-a-version"}

	tests := []struct {
		game    string
		want    string
		wantErr bool
	}{
		{game: "1.20.4", want: "20.4.237"},
		{game: "1.21", want: "21.0.3-beta"},
		{game: "1.20.6", want: "20.6.1-beta"},
		{game: "1.19.2", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.game, func(t *testing.T) {
			got, err := latestNeoForge(tt.game, versions)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoLoaderVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNeoForgeInstallerURL(t *testing.T) {
	g := &forgeGenerator{opts: Options{}.withDefaults(), kind: NeoForge}
	u, err := g.installerURL("20.4.237")
	require.NoError(t, err)
	assert.Equal(t, "https://maven.neoforged.net/releases/net/neoforged/neoforge/20.4.237/neoforge-20.4.237-installer.jar", u)
}
