package catalog

import (
	"bytes"
	"context"
	"io"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/chararch/bgmigration"
)

// Catalog a set of job descriptors and aliases, usually kept in a yaml file:
//
//	jobs:
//	  - name: copy_user_email
//	    target_table: users
//	    cursor_columns: [id]
//	    batch_size: 1000
//	    mutation: copy_column
//	    source_columns: [email]
//	    target_columns: [email_address]
//	aliases:
//	  copy_user_email_v1: copy_user_email
type Catalog struct {
	Jobs    []*bgmigration.JobDescriptor `yaml:"jobs"`
	Aliases map[string]string            `yaml:"aliases,omitempty"`
}

// Load read a catalog file from store
func Load(store FileStore, fileName string) (*Catalog, error) {
	reader, err := store.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer func() {
		if er := reader.Close(); er != nil {
			bgmigration.DefaultLogger.Error(context.Background(), "close catalog file:%v error:%v", fileName, er)
		}
	}()
	return Decode(reader)
}

// Decode parse a yaml catalog, unknown fields are rejected
func Decode(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	c := &Catalog{}
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode catalog")
	}
	for _, job := range c.Jobs {
		if job.BatchSize == 0 {
			job.BatchSize = bgmigration.DefaultBatchSize
		}
		if len(job.CursorColumns) == 0 {
			job.CursorColumns = []string{"id"}
		}
	}
	return c, nil
}

// RegisterInto register every job of the catalog and then its aliases
func (c *Catalog) RegisterInto(registry *bgmigration.Registry) error {
	for _, job := range c.Jobs {
		if err := registry.Register(job); err != nil {
			return errors.Wrapf(err, "register job:%v", job.Name)
		}
	}
	aliases := make([]string, 0, len(c.Aliases))
	for alias := range c.Aliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		if err := registry.Alias(alias, c.Aliases[alias]); err != nil {
			return errors.Wrapf(err, "register alias:%v", alias)
		}
	}
	return nil
}

// FromRegistry build a catalog of everything registered in registry
func FromRegistry(registry *bgmigration.Registry) *Catalog {
	c := &Catalog{Aliases: map[string]string{}}
	for _, name := range registry.Names() {
		desc, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		if desc.Name != name {
			c.Aliases[name] = desc.Name
			continue
		}
		c.Jobs = append(c.Jobs, desc)
	}
	return c
}

// Save write the catalog as yaml to store
func (c *Catalog) Save(store FileStore, fileName string) error {
	writer, err := store.Create(fileName)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(writer)
	enc.SetIndent(2)
	err = enc.Encode(c)
	if er := enc.Close(); err == nil {
		err = er
	}
	if er := writer.Close(); err == nil {
		err = er
	}
	if err != nil {
		return errors.Wrapf(err, "write catalog:%v", fileName)
	}
	return nil
}

// Copy copy a catalog file between stores, e.g. to publish a local catalog to the ftp server workers read from
func Copy(from FileStore, fromName string, to FileStore, toName string) error {
	reader, err := from.Open(fromName)
	if err != nil {
		return errors.Wrapf(err, "open from file:%v", fromName)
	}
	defer func() {
		if er := reader.Close(); er != nil {
			bgmigration.DefaultLogger.Error(context.Background(), "close file reader:%v error:%v", fromName, er)
		}
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return errors.Wrapf(err, "read file:%v", fromName)
	}
	c, err := Decode(bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(err, "file:%v is not a catalog", fromName)
	}
	for _, job := range c.Jobs {
		if be := job.Validate(); be != nil {
			return errors.Wrapf(be, "file:%v holds invalid job:%v", fromName, job.Name)
		}
	}
	writer, err := to.Create(toName)
	if err != nil {
		return errors.Wrapf(err, "open to file:%v", toName)
	}
	_, err = writer.Write(data)
	if er := writer.Close(); err == nil {
		err = er
	}
	if err != nil {
		return errors.Wrapf(err, "copy file: %v -> %v", fromName, toName)
	}
	return nil
}
