package catalog

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"codeduel/internal/duel/model"
	appErr "codeduel/pkg/errors"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// A bundle is a zstd-compressed tar holding task.yaml (metadata and case ids)
// and cases/<id>.in, cases/<id>.out for every test case.
const (
	BundleSuffix      = ".tar.zst"
	BundleContentType = "application/zstd"
	manifestName      = "task.yaml"
	casesDir          = "cases"
	maxBundleEntry    = 32 << 20
)

// EncodeBundle packs a task into bundle bytes.
func EncodeBundle(task *model.Task) ([]byte, error) {
	if task == nil {
		return nil, appErr.ValidationError("task", "required")
	}
	meta := *task
	meta.TestCases = make([]model.TestCase, len(task.TestCases))
	for i, tc := range task.TestCases {
		meta.TestCases[i] = model.TestCase{ID: tc.ID, IsPublic: tc.IsPublic}
	}
	manifest, err := yaml.Marshal(&meta)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TaskInvalid, "encode task manifest failed")
	}

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "create zstd writer failed")
	}
	tw := tar.NewWriter(zw)
	now := time.Now()
	write := func(name string, data []byte) error {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(data)), ModTime: now, Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := tw.Write(data)
		return err
	}
	if err := write(manifestName, manifest); err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "write bundle failed")
	}
	for _, tc := range task.TestCases {
		if err := write(path.Join(casesDir, tc.ID+".in"), []byte(tc.Input)); err != nil {
			return nil, appErr.Wrapf(err, appErr.InternalServerError, "write bundle failed")
		}
		if err := write(path.Join(casesDir, tc.ID+".out"), []byte(tc.ExpectedOutput)); err != nil {
			return nil, appErr.Wrapf(err, appErr.InternalServerError, "write bundle failed")
		}
	}
	if err := tw.Close(); err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "close tar writer failed")
	}
	if err := zw.Close(); err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "close zstd writer failed")
	}
	return buf.Bytes(), nil
}

// DecodeBundle reads a bundle and returns the normalized task.
func DecodeBundle(r io.Reader) (*model.Task, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TaskBundleBroken, "create zstd reader failed")
	}
	defer zr.Close()

	var manifest []byte
	files := make(map[string][]byte)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.TaskBundleBroken, "read tar entry failed")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(hdr.Name)
		if strings.HasPrefix(name, "..") || path.IsAbs(name) {
			return nil, appErr.New(appErr.TaskBundleBroken).WithMessagef("invalid tar entry path %q", hdr.Name)
		}
		if hdr.Size > maxBundleEntry {
			return nil, appErr.New(appErr.TaskBundleBroken).WithMessagef("entry %s exceeds %d bytes", name, maxBundleEntry)
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxBundleEntry))
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.TaskBundleBroken, "read %s failed", name)
		}
		if name == manifestName {
			manifest = data
			continue
		}
		files[name] = data
	}
	if manifest == nil {
		return nil, appErr.New(appErr.TaskBundleBroken).WithMessage("bundle has no task.yaml")
	}

	var task model.Task
	if err := yaml.Unmarshal(manifest, &task); err != nil {
		return nil, appErr.Wrapf(err, appErr.TaskBundleBroken, "parse task manifest failed")
	}
	for i := range task.TestCases {
		tc := &task.TestCases[i]
		in, ok := files[path.Join(casesDir, tc.ID+".in")]
		if !ok {
			return nil, appErr.New(appErr.TaskBundleBroken).WithMessagef("missing input for case %s", tc.ID)
		}
		out, ok := files[path.Join(casesDir, tc.ID+".out")]
		if !ok {
			return nil, appErr.New(appErr.TaskBundleBroken).WithMessagef("missing output for case %s", tc.ID)
		}
		tc.Input = string(in)
		tc.ExpectedOutput = string(out)
	}
	if err := task.Normalize(); err != nil {
		return nil, err
	}
	return &task, nil
}
