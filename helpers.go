package mmvar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/mmvar/internal/directory"
)

// set defines name with v's type if it does not exist and writes v, all
// under one exclusive lock.
func (s *Store) set(name string, v Value) error {
	start := time.Now()
	err := s.setValue(name, v)
	s.metrics.RecordWrite(v.typ, v.Len(), time.Since(start), err)
	s.logger.result(context.Background(), "set", err, "name", name, "type", v.typ, "size", v.Len())
	return err
}

func (s *Store) setValue(name string, v Value) error {
	if err := directory.ValidateName(name); err != nil {
		return translateError(err)
	}
	return s.exclusive(func() error {
		e, err := s.dir.Lookup(name)
		if errors.Is(err, directory.ErrNotFound) {
			e, err = s.defineLocked(name, v.typ, uint64(v.Len()))
		}
		if err != nil {
			return err
		}
		return s.writeLocked(handleOf(e), v)
	})
}

// get reads name, which must have type typ.
func (s *Store) get(name string, typ Type) (Value, error) {
	start := time.Now()
	v, err := s.getValue(name, typ)
	s.metrics.RecordRead(typ, time.Since(start), err)
	return v, err
}

func (s *Store) getValue(name string, typ Type) (Value, error) {
	if err := directory.ValidateName(name); err != nil {
		return Value{}, translateError(err)
	}
	var v Value
	err := s.shared(func() error {
		e, err := s.dir.Lookup(name)
		if err != nil {
			return err
		}
		if e.Type != typ {
			return fmt.Errorf("%w: %q is %s, not %s", ErrTypeMismatch, name, e.Type, typ)
		}
		if typ.Immediate() {
			v = Value{typ: typ, bits: e.Value}
			return nil
		}
		data, err := s.payload(e)
		if err != nil {
			return err
		}
		v = Value{typ: typ, data: bytes.Clone(data)}
		return nil
	})
	return v, err
}

// SetInt64 stores v in the Int64 variable name, defining it if needed.
func (s *Store) SetInt64(name string, v int64) error {
	return s.set(name, Int64Value(v))
}

// GetInt64 returns the value of the Int64 variable name.
func (s *Store) GetInt64(name string) (int64, error) {
	v, err := s.get(name, TypeInt64)
	return v.Int64(), err
}

// SetUint64 stores v in the Uint64 variable name, defining it if needed.
func (s *Store) SetUint64(name string, v uint64) error {
	return s.set(name, Uint64Value(v))
}

// GetUint64 returns the value of the Uint64 variable name.
func (s *Store) GetUint64(name string) (uint64, error) {
	v, err := s.get(name, TypeUint64)
	return v.Uint64(), err
}

// SetFloat64 stores v in the Float64 variable name, defining it if needed.
func (s *Store) SetFloat64(name string, v float64) error {
	return s.set(name, Float64Value(v))
}

// GetFloat64 returns the value of the Float64 variable name.
func (s *Store) GetFloat64(name string) (float64, error) {
	v, err := s.get(name, TypeFloat64)
	return v.Float64(), err
}

// SetBool stores v in the Bool variable name, defining it if needed.
func (s *Store) SetBool(name string, v bool) error {
	return s.set(name, BoolValue(v))
}

// GetBool returns the value of the Bool variable name.
func (s *Store) GetBool(name string) (bool, error) {
	v, err := s.get(name, TypeBool)
	return v.Bool(), err
}

// SetBytes stores a copy of b in the Bytes variable name, defining it if needed.
func (s *Store) SetBytes(name string, b []byte) error {
	return s.set(name, BytesValue(b))
}

// GetBytes returns a copy of the Bytes variable name.
func (s *Store) GetBytes(name string) ([]byte, error) {
	v, err := s.get(name, TypeBytes)
	return v.Bytes(), err
}

// SetString stores str in the String variable name, defining it if needed.
func (s *Store) SetString(name, str string) error {
	return s.set(name, StringValue(str))
}

// GetString returns the String variable name.
func (s *Store) GetString(name string) (string, error) {
	v, err := s.get(name, TypeString)
	if err != nil {
		return "", err
	}
	return string(v.Bytes()), nil
}
