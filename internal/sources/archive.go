package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ArchiveSource retrieves historical daily bars from an FTP archive. It is a
// last-resort source: slow but nearly always available, which is why
// collection strategies list it under fallback sources.
type ArchiveSource struct {
	baseURL string
	timeout time.Duration
}

// NewArchiveSource creates an archive source. baseURL is an ftp:// directory
// holding one JSON file per symbol.
func NewArchiveSource(baseURL string) *ArchiveSource {
	return &ArchiveSource{baseURL: baseURL, timeout: 30 * time.Second}
}

func (s *ArchiveSource) Name() string { return "archive" }

// archivePath resolves the FTP host (with port) and file path for a symbol.
func (s *ArchiveSource) archivePath(key string) (host, path string, err error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", "", eris.Wrap(err, "archive: parse base url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("archive: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = strings.TrimSuffix(u.Path, "/") + "/" + strings.ToUpper(key) + ".json"
	return host, path, nil
}

func (s *ArchiveSource) Fetch(ctx context.Context, key string) (map[string]any, error) {
	host, path, err := s.archivePath(key)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("archive: connecting", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(s.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "archive: ftp dial")
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		return nil, eris.Wrap(err, "archive: ftp login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		return nil, eris.Wrapf(err, "archive: retrieve %s", path)
	}
	defer resp.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp)
	if err != nil {
		return nil, eris.Wrap(err, "archive: read file")
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, eris.Wrapf(err, "archive: decode %s", path)
	}
	if payload["symbol"] == nil {
		payload["symbol"] = strings.ToUpper(key)
	}
	payload["archive_file"] = fmt.Sprintf("ftp://%s%s", host, path)
	return payload, nil
}
