package gpkg

import (
	"encoding/binary"

	"github.com/pilosa/harvest/kv"
	"github.com/pkg/errors"
)

// Metadata is a row of gpkg_metadata.
type Metadata struct {
	ID          int64
	Scope       string
	StandardURI string
	MimeType    string
	Metadata    string
}

// MetadataReference is a row of gpkg_metadata_reference.
type MetadataReference struct {
	ReferenceScope string
	TableName      string
	Timestamp      string
	FileID         int64
}

// nextSeq increments and returns the sequence stored at k.
func nextSeq(tx kv.Txn, k []byte) (int64, error) {
	v, err := tx.Get(k)
	if err != nil {
		return 0, err
	}
	var n int64
	if len(v) == 8 {
		n = int64(binary.BigEndian.Uint64(v))
	}
	n++
	return n, tx.Put(k, fidBytes(n))
}

// AddMetadata stores md, giving it a new id, and references it from table.
// An empty table references the whole container. The metadata extension is
// registered on first use.
func (c *Container) AddMetadata(md Metadata, table string) (int64, error) {
	if md.StandardURI == "" {
		md.StandardURI = DefaultStandardURI
	}
	if md.Scope == "" {
		md.Scope = MetadataScopeDataset
	}
	err := kv.Update(c.db, func(tx kv.Txn) error {
		if table != "" {
			v, err := tx.Get(key(contentsPrefix, table))
			if err != nil {
				return err
			}
			if v == nil {
				return errors.Wrap(ErrNoTable, table)
			}
		}
		id, err := nextSeq(tx, key(seqPrefix, metadataPrefix))
		if err != nil {
			return errors.Wrap(err, "allocating metadata id")
		}
		md.ID = id
		val, err := encode(metadataCodec, map[string]interface{}{
			"id":              md.ID,
			"md_scope":        md.Scope,
			"md_standard_uri": md.StandardURI,
			"mime_type":       md.MimeType,
			"metadata":        md.Metadata,
		})
		if err != nil {
			return errors.Wrap(err, "encoding metadata")
		}
		if err := tx.Put(key(metadataPrefix, itoa(md.ID)), val); err != nil {
			return err
		}

		scope := ReferenceScopeTable
		if table == "" {
			scope = ReferenceScopeGeoPackage
		}
		val, err = encode(metadataReferenceCodec, map[string]interface{}{
			"reference_scope": scope,
			"table_name":      nullString(table),
			"column_name":     nil,
			"row_id_value":    nil,
			"timestamp":       c.timestamp(),
			"md_file_id":      md.ID,
			"md_parent_id":    nil,
		})
		if err != nil {
			return errors.Wrap(err, "encoding metadata reference")
		}
		if err := tx.Put(key(mdRefPrefix, table, "/", itoa(md.ID)), val); err != nil {
			return err
		}

		for _, t := range []string{"gpkg_metadata", "gpkg_metadata_reference"} {
			err := putExtension(tx, Extension{
				TableName:     t,
				ExtensionName: ExtensionMetadata,
				Definition:    metadataDefinition,
				Scope:         ExtensionScopeReadWrite,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return md.ID, err
}

// Metadata lists the metadata referenced from table, or from the whole
// container if table is empty, in the order it was added.
func (c *Container) Metadata(table string) ([]Metadata, error) {
	var list []Metadata
	err := kv.View(c.db, func(tx kv.Txn) error {
		refs, err := references(tx, table)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			v, err := tx.Get(key(metadataPrefix, itoa(ref.FileID)))
			if err != nil {
				return err
			}
			if v == nil {
				continue
			}
			rec, err := decode(metadataCodec, v)
			if err != nil {
				return errors.Wrap(err, "decoding metadata")
			}
			list = append(list, Metadata{
				ID:          int64Of(rec["id"]),
				Scope:       str(rec["md_scope"]),
				StandardURI: str(rec["md_standard_uri"]),
				MimeType:    str(rec["mime_type"]),
				Metadata:    str(rec["metadata"]),
			})
		}
		return nil
	})
	return list, err
}

// MetadataReferences lists the references from table.
func (c *Container) MetadataReferences(table string) ([]MetadataReference, error) {
	var refs []MetadataReference
	err := kv.View(c.db, func(tx kv.Txn) (err error) {
		refs, err = references(tx, table)
		return err
	})
	return refs, err
}

func references(tx kv.Txn, table string) ([]MetadataReference, error) {
	var refs []MetadataReference
	err := tx.Scan(key(mdRefPrefix, table, "/"), func(_, v []byte) error {
		rec, err := decode(metadataReferenceCodec, v)
		if err != nil {
			return errors.Wrap(err, "decoding metadata reference")
		}
		refs = append(refs, MetadataReference{
			ReferenceScope: str(rec["reference_scope"]),
			TableName:      branchString(rec["table_name"]),
			Timestamp:      str(rec["timestamp"]),
			FileID:         int64Of(rec["md_file_id"]),
		})
		return nil
	})
	return refs, err
}
