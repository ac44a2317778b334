package vmconn

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// fileTransferConn is implemented by transports that can open an SFTP
// subsystem on the session.
type fileTransferConn interface {
	sftpClient() (*sftp.Client, error)
}

func (c *Connection) sftp() (*sftp.Client, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	ft, ok := c.conn.(fileTransferConn)
	if !ok {
		return nil, fmt.Errorf("transport does not support file transfer")
	}
	client, err := ft.sftpClient()
	if err != nil {
		return nil, fmt.Errorf("failed to open sftp subsystem: %w", err)
	}
	return client, nil
}

// Upload copies a local file to remotePath over SFTP, creating parent
// directories as needed and replacing any existing file. Requires an open
// session.
func (c *Connection) Upload(localPath, remotePath string) error {
	client, err := c.sftp()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	local, err := os.Open(localPath) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer func() { _ = local.Close() }()

	remote, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer func() { _ = remote.Close() }()

	if _, err := io.Copy(remote, local); err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	info, err := os.Stat(localPath)
	if err == nil {
		if err := client.Chmod(remotePath, info.Mode().Perm()); err != nil {
			return fmt.Errorf("failed to set remote file mode: %w", err)
		}
	}
	return nil
}

// Download copies a remote file to localPath over SFTP. Requires an open
// session.
func (c *Connection) Download(remotePath, localPath string) error {
	client, err := c.sftp()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	remote, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer func() { _ = remote.Close() }()

	local, err := os.Create(localPath) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer func() { _ = local.Close() }()

	if _, err := io.Copy(local, remote); err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	return nil
}
