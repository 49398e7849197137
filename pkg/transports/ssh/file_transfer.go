package ssh

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// upload writes content to a remote path over SFTP, creating parent
// directories as needed.
func (c *client) upload(ctx context.Context, content []byte, remotePath string) error {
	conn, err := c.getConn()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Host:        c.hostID,
			Err:         fmt.Errorf("failed to create sftp client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "upload", Host: c.hostID, Err: err, IsTemporary: true}
	}

	dir := filepath.Dir(remotePath)
	if dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &TransportError{
				Op:   "upload",
				Host: c.hostID,
				Err:  fmt.Errorf("failed to create remote directory %s: %w", dir, err),
			}
		}
	}

	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{
			Op:   "upload",
			Host: c.hostID,
			Err:  fmt.Errorf("failed to create remote file %s: %w", remotePath, err),
		}
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return &TransportError{
			Op:          "upload",
			Host:        c.hostID,
			Err:         fmt.Errorf("failed to write remote file %s: %w", remotePath, err),
			IsTemporary: true,
		}
	}

	log.Debug().
		Str("host", c.hostID).
		Str("path", remotePath).
		Int("bytes", len(content)).
		Msg("file uploaded")
	return nil
}
