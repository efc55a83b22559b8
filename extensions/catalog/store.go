package catalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
)

// FileStore where catalog files live
type FileStore interface {
	Open(fileName string) (io.ReadCloser, error)
	Create(fileName string) (io.WriteCloser, error)
}

// LocalFileSystem local file store
type LocalFileSystem struct {
	// Dir is prepended to relative file names
	Dir string
}

func (fs *LocalFileSystem) path(fileName string) string {
	if fs.Dir == "" || filepath.IsAbs(fileName) {
		return fileName
	}
	return filepath.Join(fs.Dir, fileName)
}

func (fs *LocalFileSystem) Open(fileName string) (io.ReadCloser, error) {
	f, err := os.Open(fs.path(fileName))
	if err != nil {
		return nil, errors.Wrapf(err, "open local file:%v", fileName)
	}
	return f, nil
}

func (fs *LocalFileSystem) Create(fileName string) (io.WriteCloser, error) {
	path := fs.path(fileName)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "create dir of local file:%v", fileName)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create local file:%v", fileName)
	}
	return f, nil
}

// FTPFileSystem ftp file store
type FTPFileSystem struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
}

func (fs *FTPFileSystem) connect() (*ftp.ServerConn, error) {
	timeout := fs.ConnTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	port := fs.Port
	if port == 0 {
		port = 21
	}
	conn, err := ftp.Dial(fmt.Sprintf("%s:%d", fs.Host, port), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, errors.Wrapf(err, "connect to ftp server %v:%v", fs.Host, port)
	}
	if err = conn.Login(fs.User, fs.Password); err != nil {
		_ = conn.Quit()
		return nil, errors.Wrapf(err, "login to ftp server %v as %v", fs.Host, fs.User)
	}
	return conn, nil
}

func (fs *FTPFileSystem) Open(fileName string) (io.ReadCloser, error) {
	conn, err := fs.connect()
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(fileName)
	if err != nil {
		_ = conn.Quit()
		return nil, errors.Wrapf(err, "retrieve ftp file:%v", fileName)
	}
	return &ftpReader{conn: conn, resp: resp}, nil
}

func (fs *FTPFileSystem) Create(fileName string) (io.WriteCloser, error) {
	conn, err := fs.connect()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(fileName)
	if dir != "." && dir != "/" {
		// fails when the directory exists
		_ = conn.MakeDir(dir)
	}
	pr, pw := io.Pipe()
	w := &ftpWriter{conn: conn, pw: pw, done: make(chan error, 1)}
	go func() {
		err := conn.Stor(fileName, pr)
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

type ftpReader struct {
	conn *ftp.ServerConn
	resp *ftp.Response
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	err := r.resp.Close()
	if er := r.conn.Quit(); err == nil {
		err = er
	}
	return err
}

type ftpWriter struct {
	conn *ftp.ServerConn
	pw   *io.PipeWriter
	done chan error
}

func (w *ftpWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close finishes the upload and waits for the server to acknowledge it
func (w *ftpWriter) Close() error {
	_ = w.pw.Close()
	err := <-w.done
	if er := w.conn.Quit(); err == nil {
		err = er
	}
	return err
}
