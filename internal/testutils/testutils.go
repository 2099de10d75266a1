//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// Icon is a named SVG served by StartIconServer.
type Icon struct {
	Name string
	Data []byte
}

// GenerateIcons returns n small distinct SVG documents named icon000, icon001, ...
func GenerateIcons(t *testing.T, n int) []Icon {
	t.Helper()
	icons := make([]Icon, n)
	for i := range icons {
		name := fmt.Sprintf("icon%03d", i)
		icons[i] = Icon{
			Name: name,
			Data: []byte(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 48 48"><title>%s</title><path d="M%d 0h48v48H0z"/></svg>`, name, i)),
		}
	}
	return icons
}

// IconServer serves icons at /svg/<name>.svg and counts requests per path.
type IconServer struct {
	*httptest.Server

	mu   sync.Mutex
	hits map[string]int
	fail map[string]int
}

// StartIconServer starts an HTTP server for icons. Paths that are not icons
// return 404.
func StartIconServer(t *testing.T, icons []Icon) *IconServer {
	t.Helper()

	files := make(map[string][]byte, len(icons))
	for _, icon := range icons {
		files["/svg/"+icon.Name+".svg"] = icon.Data
	}

	s := &IconServer{hits: make(map[string]int), fail: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		failing := s.fail[r.URL.Path] > 0
		if failing {
			s.fail[r.URL.Path]--
		}
		s.mu.Unlock()

		if failing {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	return s
}

// FailNext makes the next n requests for name answer 503.
func (s *IconServer) FailNext(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail["/svg/"+name+".svg"] = n
}

// Hits returns the number of requests seen for name.
func (s *IconServer) Hits(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits["/svg/"+name+".svg"]
}

// IconURL returns the URL for name.
func (s *IconServer) IconURL(name string) string {
	return s.Server.URL + "/svg/" + name + ".svg"
}

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
	minioAlias    = "minio"
)

// Minio is a MinIO server running in a container. It is terminated when the
// test that started it finishes.
type Minio struct {
	// BucketURL is a gocloud s3blob URL for the pre-created bucket.
	BucketURL string
	Endpoint  string
}

// Bucket opens the test bucket and closes it when the test ends.
func (m *Minio) Bucket(t *testing.T, ctx context.Context) *blob.Bucket {
	t.Helper()
	bkt, err := blob.OpenBucket(ctx, m.BucketURL)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bkt.Close() })
	return bkt
}

// ReadObject reads key from the bucket, failing the test on error.
func (m *Minio) ReadObject(t *testing.T, ctx context.Context, key string) []byte {
	t.Helper()
	data, err := m.Bucket(t, ctx).ReadAll(ctx, key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return data
}

// StartMinio starts MinIO with bucket already created and points the AWS
// credential variables at it.
func StartMinio(t *testing.T, ctx context.Context, bucket string) *Minio {
	t.Helper()

	netName := fmt.Sprintf("iconsync-minio-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: netName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(context.Background()) })

	server, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "minio/minio:latest",
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{netName},
			NetworkAliases: map[string][]string{netName: {minioAlias}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Terminate(context.Background()); err != nil {
			t.Logf("terminate minio container: %v", err)
		}
	})

	makeBucket(t, ctx, netName, bucket)

	host, err := server.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := server.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}
	endpoint := host + ":" + port.Port()

	// s3blob reads credentials from the standard AWS variables.
	t.Setenv("AWS_ACCESS_KEY_ID", minioUser)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioPassword)

	return &Minio{
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1", bucket, endpoint),
		Endpoint:  endpoint,
	}
}

// makeBucket runs a one-shot mc container on the MinIO network.
func makeBucket(t *testing.T, ctx context.Context, netName, bucket string) {
	t.Helper()

	script := fmt.Sprintf("mc alias set %[1]s http://%[1]s:9000 %[2]s %[3]s && mc mb --ignore-existing %[1]s/%[4]s",
		minioAlias, minioUser, minioPassword, bucket)

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{netName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd:        []string{script},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mc.Terminate(ctx)

	state, err := mc.State(ctx)
	if err != nil {
		t.Fatalf("mc state: %v", err)
	}
	if state.ExitCode != 0 {
		t.Fatalf("mc mb %s exited with %d", bucket, state.ExitCode)
	}
}
