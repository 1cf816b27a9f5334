// Package download implements the all-or-nothing concurrent file
// downloader: every requested file must succeed, or every file written
// during the attempt is removed and the first error is returned.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	rerrors "github.com/otaresolve/resolver/pkg/errors"
	"github.com/otaresolve/resolver/pkg/logger"
	"github.com/otaresolve/resolver/pkg/version"
)

var log = logger.New("download")

// chunkSize sets the read-buffer size and the granularity of progress
// callbacks.
const chunkSize = 4096

// Request names one file to fetch: its source URL, destination path, and
// the size the index declared for it (zero when unknown, e.g. detached
// signatures).
type Request struct {
	URL  string
	Dest string
	Size int64
}

// ProgressFunc is called from downloader goroutines as bytes arrive; it
// must be safe to call concurrently from multiple goroutines.
type ProgressFunc func(url, dest string, bytesRead int64)

// Downloader fetches sets of files with a bounded worker pool.
type Downloader struct {
	client  *http.Client
	workers int
}

// New creates a Downloader with the given worker concurrency and
// per-request timeout.
func New(workers int, timeout time.Duration) *Downloader {
	if workers < 1 {
		workers = 1
	}
	return &Downloader{
		client:  &http.Client{Timeout: timeout},
		workers: workers,
	}
}

// GetFiles downloads every request concurrently, bounded by the
// downloader's worker count, and blocks until all complete or one fails.
// On any failure every file this call wrote, finished or
// mid-write, is removed, and the first error encountered is returned.
func (d *Downloader) GetFiles(ctx context.Context, requests []Request, progress ProgressFunc) error {
	if len(requests) == 0 {
		return nil
	}
	if err := checkFreeSpace(requests); err != nil {
		return err
	}

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	errs := make(chan error, len(requests))
	written := make([]string, len(requests))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, req := range requests {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			defer func() { <-sem }()

			if err := d.getOne(ctx, req, progress); err != nil {
				errs <- err
				cancel()
				return
			}
			written[i] = req.Dest
		}(i, req)
	}

	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
	}
	if first != nil {
		for _, path := range written {
			if path != "" {
				os.Remove(path)
			}
		}
		return first
	}
	return nil
}

func (d *Downloader) getOne(ctx context.Context, req Request, progress ProgressFunc) error {
	log.WithField("url", req.URL).WithField("dest", req.Dest).Debug("downloading")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("User-Agent", version.Get().UserAgent())
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(req.Dest), ".download-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	var bytesRead int64
	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				os.Remove(tmpName)
				return werr
			}
			bytesRead += int64(n)
			if progress != nil {
				progress(req.URL, req.Dest, bytesRead)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tmp.Close()
			os.Remove(tmpName)
			return readErr
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, req.Dest)
}

// FetchAll retrieves every URL's body into memory, in order. Any failed or
// missing URL fails the whole call with a NotFound error, which is how the
// state machine distinguishes "artifact absent upstream" from trust
// failures.
func (d *Downloader) FetchAll(ctx context.Context, urls []string) ([][]byte, error) {
	out := make([][]byte, len(urls))
	for i, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, rerrors.NotFoundf("bad url %s: %v", u, err)
		}
		req.Header.Set("User-Agent", version.Get().UserAgent())
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, rerrors.NotFoundf("fetching %s: %v", u, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, rerrors.NotFoundf("reading %s: %v", u, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, rerrors.NotFoundf("fetching %s: status %d", u, resp.StatusCode)
		}
		out[i] = body
	}
	return out, nil
}

// checkFreeSpace refuses a batch whose declared sizes exceed the free
// space on the destination filesystem, so a doomed multi-gigabyte batch
// fails before the first byte instead of partway through. Requests with
// unknown sizes contribute nothing; a filesystem we cannot stat is not
// treated as full.
func checkFreeSpace(requests []Request) error {
	var total int64
	for _, r := range requests {
		total += r.Size
	}
	if total == 0 {
		return nil
	}

	dir := filepath.Dir(requests[0].Dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return nil
	}
	if avail := int64(st.Bavail) * int64(st.Bsize); avail < total {
		return &NoSpaceError{Dir: dir, Needed: total, Available: avail}
	}
	return nil
}

// NoSpaceError reports that a batch's declared sizes do not fit on the
// destination filesystem.
type NoSpaceError struct {
	Dir       string
	Needed    int64
	Available int64
}

func (e *NoSpaceError) Error() string {
	return fmt.Sprintf("download: %s: need %d bytes, %d available", e.Dir, e.Needed, e.Available)
}

// HTTPError reports a non-200 response from a download request.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return "download: " + e.URL + ": unexpected status " + http.StatusText(e.StatusCode)
}
