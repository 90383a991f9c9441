package guestagent

import (
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	pb "github.com/opensandbox/sandchest/proto/agent"
)

type fakePutFileStream struct {
	grpc.ServerStream
	chunks []*pb.PutFileChunk
	pos    int
	closed bool
}

func (s *fakePutFileStream) Recv() (*pb.PutFileChunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *fakePutFileStream) SendAndClose(*pb.Empty) error {
	s.closed = true
	return nil
}

type fakeGetFileStream struct {
	grpc.ServerStream
	sent []*pb.GetFileChunk
}

func (s *fakeGetFileStream) Send(c *pb.GetFileChunk) error {
	s.sent = append(s.sent, c)
	return nil
}

func putChunks(path string, data []byte, chunkSize int) []*pb.PutFileChunk {
	var chunks []*pb.PutFileChunk
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, &pb.PutFileChunk{
			Data:   data[off:end],
			Offset: int64(off),
		})
	}
	if len(chunks) == 0 {
		chunks = []*pb.PutFileChunk{{}}
	}
	chunks[0].Path = path
	chunks[len(chunks)-1].Done = true
	return chunks
}

// put_file followed by get_file yields exactly the bytes that went in,
// for sizes straddling the streaming chunk boundary.
func TestPutFileGetFileRoundTrip(t *testing.T) {
	srv := NewServer()
	rng := rand.New(rand.NewSource(7))

	for _, size := range []int{0, 1, 100, getFileChunkSize, getFileChunkSize + 1, 3*getFileChunkSize + 17} {
		data := make([]byte, size)
		rng.Read(data)
		path := filepath.Join(t.TempDir(), "blob.bin")

		put := &fakePutFileStream{chunks: putChunks(path, data, 8*1024)}
		require.NoError(t, srv.PutFile(put))
		require.True(t, put.closed)

		get := &fakeGetFileStream{}
		require.NoError(t, srv.GetFile(&pb.GetFileRequest{Path: path}, get))

		out := []byte{}
		sawDone := false
		for _, c := range get.sent {
			out = append(out, c.Data...)
			if c.Done {
				sawDone = true
			}
		}
		require.True(t, sawDone, "get_file stream must terminate with done=true")
		require.Equal(t, data, out, "size %d", size)
	}
}

func TestPutFileFirstChunkMissingPath(t *testing.T) {
	srv := NewServer()
	put := &fakePutFileStream{chunks: []*pb.PutFileChunk{{Data: []byte("x"), Done: true}}}
	require.Error(t, srv.PutFile(put))
}

func TestGetFileMissing(t *testing.T) {
	srv := NewServer()
	get := &fakeGetFileStream{}
	err := srv.GetFile(&pb.GetFileRequest{Path: filepath.Join(t.TempDir(), "nope")}, get)
	require.Error(t, err)
}

func TestListFilesSortedEntries(t *testing.T) {
	srv := NewServer()
	dir := t.TempDir()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	resp, err := srv.ListFiles(context.Background(), &pb.ListFilesRequest{Path: dir})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 3)
	require.Equal(t, "alpha", resp.Entries[0].Name)
	require.Equal(t, "bravo", resp.Entries[1].Name)
	require.Equal(t, "charlie", resp.Entries[2].Name)
}

func TestResolvePath(t *testing.T) {
	require.Equal(t, "/etc/hosts", resolvePath("/etc/hosts"))
	require.Equal(t, "/workspace/out.txt", resolvePath("workspace/out.txt"))
	require.Equal(t, "/etc", resolvePath("/../etc"))
}

func TestHealthIsReady(t *testing.T) {
	srv := NewServer()
	resp, err := srv.Health(context.Background(), &pb.HealthRequest{})
	require.NoError(t, err)
	require.True(t, resp.Ready)
}
