package ob

import (
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/models"
)

type File struct {
	Header
	F    *os.File
	Path string
	Dir  bool
}

func (f *File) TypeName() string { return "File" }

func (f *File) Destroy() {
	f.F.Close()
}

// Drive resolves paths below a DOS drive to host files.
type Drive struct {
	Header
	Letter byte
	Config *models.Config
}

func (d *Drive) TypeName() string { return "Device" }

func (d *Drive) Parse(rest string) (Object, error) {
	path, ok := d.Config.HostPath(string([]byte{d.Letter, ':', '\\'}) + rest)
	if !ok {
		return nil, errors.Wrap(models.STATUS_OBJECT_PATH_NOT_FOUND, rest)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(models.STATUS_OBJECT_NAME_NOT_FOUND, err.Error())
	}
	var fd *os.File
	if fi.IsDir() {
		fd, err = os.Open(path)
	} else if fd, err = os.OpenFile(path, os.O_RDWR, 0); err != nil {
		fd, err = os.Open(path)
	}
	if err != nil {
		return nil, errors.Wrap(models.STATUS_ACCESS_DENIED, err.Error())
	}
	return &File{F: fd, Path: rest, Dir: fi.IsDir()}, nil
}
