package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPStore keeps blobs as files in Dir on an FTP server. A connection is opened per operation.
type FTPStore struct {
	Host        string
	Port        int
	User        string
	Password    string
	Dir         string
	ConnTimeout time.Duration
}

func (s *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if s.ConnTimeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(s.ConnTimeout))
	}
	c, err := ftp.Dial(fmt.Sprintf("%s:%d", s.Host, s.Port), opts...)
	if err != nil {
		return nil, err
	}
	if err = c.Login(s.User, s.Password); err != nil {
		c.Quit()
		return nil, err
	}
	return c, nil
}

func (s *FTPStore) file(key string) string {
	if s.Dir == "" {
		return key
	}
	return path.Join(s.Dir, key)
}

func (s *FTPStore) Put(ctx context.Context, key string, data []byte) error {
	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Quit()
	return c.Stor(s.file(key), bytes.NewReader(data))
}

func (s *FTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Quit()
	r, err := c.Retr(s.file(key))
	if err != nil {
		if isUnavailable(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *FTPStore) Delete(ctx context.Context, key string) error {
	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Quit()
	err = c.Delete(s.file(key))
	if err != nil && isUnavailable(err) {
		return nil
	}
	return err
}

func isUnavailable(err error) bool {
	e, ok := err.(*textproto.Error)
	return ok && e.Code == ftp.StatusFileUnavailable
}
