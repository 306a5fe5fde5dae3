/*
Copyright © 2018 the gridsubset authors.
This file is part of gridsubset.

gridsubset is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gridsubset is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gridsubset.  If not, see <http://www.gnu.org/licenses/>.
*/


package storage

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/spatialmodel/gridsubset"
	"gocloud.dev/blob/memblob"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New(memblob.OpenBucket(nil), "/out/")

	if err := s.Put(ctx, "a.csv", strings.NewReader("time,rfe\n")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteAll(ctx, "b.nc", []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := s.Sub("state").WriteAll(ctx, "joblist", []byte("x")); err != nil {
		t.Fatal(err)
	}

	t.Run("get", func(t *testing.T) {
		r, err := s.Get(ctx, "a.csv")
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		b, err := ioutil.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "time,rfe\n" {
			t.Errorf("have %q", b)
		}
	})

	t.Run("prefix", func(t *testing.T) {
		b, err := New(s.bucket, "out/state").ReadAll(ctx, "joblist")
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "x" {
			t.Errorf("have %q", b)
		}
	})

	t.Run("list", func(t *testing.T) {
		keys, err := s.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		sort.Strings(keys)
		want := []string{"a.csv", "b.nc", "state/joblist"}
		if !reflect.DeepEqual(keys, want) {
			t.Errorf("%v != %v", keys, want)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := s.Get(ctx, "c.csv"); gridsubset.KindOf(err) != gridsubset.NotFound {
			t.Errorf("want NotFound, got %v", err)
		}
		if _, err := s.ReadAll(ctx, "c.csv"); gridsubset.KindOf(err) != gridsubset.NotFound {
			t.Errorf("want NotFound, got %v", err)
		}
		ok, err := s.Exists(ctx, "c.csv")
		if err != nil || ok {
			t.Errorf("exists: %v, %v", ok, err)
		}
	})

	t.Run("failed copy", func(t *testing.T) {
		r := io.MultiReader(strings.NewReader("time,"), failingReader{})
		if err := s.Put(ctx, "d.csv", r); err == nil {
			t.Fatal("want error")
		}
		ok, err := s.Exists(ctx, "d.csv")
		if err != nil || ok {
			t.Errorf("exists after failed copy: %v, %v", ok, err)
		}
		r = io.MultiReader(strings.NewReader("time,"), failingReader{})
		if err := s.Put(ctx, "b.nc", r); err == nil {
			t.Fatal("want error")
		}
		b, err := s.ReadAll(ctx, "b.nc")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(b, []byte{1, 2, 3}) {
			t.Errorf("overwritten with %q", b)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Delete(ctx, "a.csv"); err != nil {
			t.Fatal(err)
		}
		ok, err := s.Exists(ctx, "a.csv")
		if err != nil || ok {
			t.Errorf("exists after delete: %v, %v", ok, err)
		}
		if err := s.Delete(ctx, "a.csv"); err != nil {
			t.Errorf("deleting twice: %v", err)
		}
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir, err := ioutil.TempDir("", "storage")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s, err := Open(ctx, "file://"+dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteAll(ctx, "f.csv", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "f.csv")); err != nil {
		t.Error(err)
	}

	if _, err := Open(ctx, "mem://jobs"); err != nil {
		t.Error(err)
	}
	if _, err := Open(ctx, "ftp://x"); err == nil {
		t.Error("want error for unknown provider")
	}
}
