package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strings"
	"time"

	"github.com/deformlab/sarmosaic/service"
	"github.com/jlaffaye/ftp"
)

// FTPProvider downloads products from an FTP server.
type FTPProvider struct {
	host  string
	dir   string
	user  string
	pword string
	tls   bool
}

// NewFTPProvider creates a TileProvider for an ftp directory.
// uri: "ftp://host[:port]/dir". Port 990 switches to FTPS. An empty
// user means anonymous access.
func NewFTPProvider(uri, user, pword string) *FTPProvider {
	uri = strings.TrimPrefix(uri, "ftp://")
	splits := strings.SplitN(uri, "/", 2)
	host := splits[0]
	if !strings.Contains(host, ":") {
		host += ":21"
	}
	dir := ""
	if len(splits) == 2 {
		dir = strings.Trim(splits[1], "/")
	}
	if user == "" {
		user, pword = "anonymous", "anonymous"
	}
	return &FTPProvider{
		host:  host,
		dir:   dir,
		user:  user,
		pword: pword,
		tls:   strings.HasSuffix(host, ":990"),
	}
}

// Name implements TileProvider
func (ip *FTPProvider) Name() string {
	return "FTP (" + ip.host + ")"
}

// Download implements TileProvider
func (ip *FTPProvider) Download(ctx context.Context, name, localDir string) error {
	ftpOption := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(5 * time.Second)}
	if ip.tls {
		ftpOption = append(ftpOption, ftp.DialWithTLS(&tls.Config{InsecureSkipVerify: true}))
	}
	c, err := ftp.Dial(ip.host, ftpOption...)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("FTPProvider.Dial: %w", err))
	}
	defer c.Quit()

	if err := c.Login(ip.user, ip.pword); err != nil {
		return fmt.Errorf("FTPProvider.Login: %w", err)
	}

	path := name
	if ip.dir != "" {
		path = ip.dir + "/" + name
	}
	size, _ := c.FileSize(path)
	r, err := c.Retr(path)
	if err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable {
			return ErrProductNotFound{Product: "ftp://" + ip.host + "/" + path}
		}
		return service.MakeTemporary(fmt.Errorf("FTPProvider.Retr: %w", err))
	}
	defer r.Close()

	src := io.TeeReader(r, newProgressWriter(ctx, ip.Name(), size))
	if err := writeLocal(src, name, localDir); err != nil {
		return fmt.Errorf("FTPProvider: %w", err)
	}
	return nil
}
