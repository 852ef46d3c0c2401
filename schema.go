package rorm

import (
	"database/sql"
	"database/sql/driver"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ModelInfo holds the reflection data for a model struct.
type ModelInfo struct {
	Type       reflect.Type
	TableName  string
	PrimaryKey string
	Fields     map[string]*FieldInfo // StructFieldName -> FieldInfo
	Columns    map[string]*FieldInfo // DBColumnName -> FieldInfo

	// RelationMethods maps a relation name to the value-receiver method
	// returning its definition. A method "PostsRelation" is registered under
	// both "PostsRelation" and "Posts".
	RelationMethods map[string]reflect.Method
}

// FieldInfo holds data about a single field in the model.
type FieldInfo struct {
	Name      string // Struct field name
	Column    string // DB column name
	IsPrimary bool
	Virtual   bool // Not backed by a column: relation slots, reserved maps
	FieldType reflect.Type
	Index     []int // Index path for nested fields
}

var (
	modelCache = make(map[reflect.Type]*ModelInfo)
	cacheMu    sync.RWMutex
)

// ParseModel inspects the struct T and returns its metadata.
func ParseModel[T any]() *ModelInfo {
	var t T
	typ := reflect.TypeOf(t)
	return ParseModelType(typ)
}

// ParseModelType inspects the type and returns its metadata.
func ParseModelType(typ reflect.Type) *ModelInfo {
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		panic("rorm: model type must be a struct")
	}

	cacheMu.RLock()
	if info, ok := modelCache[typ]; ok {
		cacheMu.RUnlock()
		return info
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Double check locking
	if info, ok := modelCache[typ]; ok {
		return info
	}

	info := &ModelInfo{
		Type:            typ,
		Fields:          make(map[string]*FieldInfo),
		Columns:         make(map[string]*FieldInfo),
		RelationMethods: make(map[string]reflect.Method),
	}

	// Table name: TableName() wins, otherwise pluralized snake case.
	ptrVal := reflect.New(typ)
	if tableNameer, ok := ptrVal.Interface().(interface{ TableName() string }); ok {
		info.TableName = tableNameer.TableName()
	} else {
		info.TableName = TableNameOf(typ.Name())
	}

	// Primary key: PrimaryKey() wins, otherwise "id" or a tagged field.
	if primaryKeyer, ok := ptrVal.Interface().(interface{ PrimaryKey() string }); ok {
		info.PrimaryKey = primaryKeyer.PrimaryKey()
	} else {
		info.PrimaryKey = DefaultPrimaryKey
	}

	collectFields(typ, nil, info)

	// Relation methods: value-receiver methods returning a relation
	// definition, with no arguments. "PostsRelation" is reachable as "Posts".
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 1 || mt.NumOut() != 1 {
			continue
		}
		if !mt.Out(0).Implements(relationInterface) {
			continue
		}
		info.RelationMethods[method.Name] = method
		if trimmed := strings.TrimSuffix(method.Name, "Relation"); trimmed != "" && trimmed != method.Name {
			info.RelationMethods[trimmed] = method
		}
	}

	modelCache[typ] = info
	return info
}

// collectFields walks the struct's fields, flattening embedded structs into
// the parent's field set.
func collectFields(typ reflect.Type, prefix []int, info *ModelInfo) {
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)

		// Skip unexported fields
		if field.PkgPath != "" {
			continue
		}

		tag := field.Tag.Get("rorm")
		if tag == "-" {
			continue
		}

		index := make([]int, 0, len(prefix)+1)
		index = append(index, prefix...)
		index = append(index, i)

		// Flatten embedded structs.
		if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Type != timeType {
			collectFields(field.Type, index, info)
			continue
		}

		dbCol := ToSnakeCase(field.Name)
		isPrimary := false

		if tag != "" {
			parts := strings.Split(tag, ";")
			for _, part := range parts {
				kv := strings.Split(part, ":")
				key := strings.TrimSpace(kv[0])
				val := ""
				if len(kv) > 1 {
					val = strings.TrimSpace(kv[1])
				}

				switch key {
				case "column":
					dbCol = val
				case "primary", "primaryKey":
					isPrimary = true
				}
			}
		}

		// An untagged ID field is the primary key.
		if field.Name == "ID" && !isPrimary && len(prefix) == 0 {
			isPrimary = true
		}

		if isPrimary {
			info.PrimaryKey = dbCol
		}

		fInfo := &FieldInfo{
			Name:      field.Name,
			Column:    dbCol,
			IsPrimary: isPrimary,
			Virtual:   isVirtualField(field),
			FieldType: field.Type,
			Index:     index,
		}

		info.Fields[field.Name] = fInfo
		info.Columns[dbCol] = fInfo
	}
}

var (
	relationInterface = reflect.TypeOf((*Relation)(nil)).Elem()
	valuerInterface   = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	scannerInterface  = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType          = reflect.TypeOf(time.Time{})
)

// isVirtualField reports whether a struct field is a relation slot or a
// reserved metadata map rather than a database column. Virtual fields are
// skipped by inserts and updates but stay addressable for relation
// stitching.
func isVirtualField(field reflect.StructField) bool {
	if field.Name == "Aggregates" || field.Name == "Pivot" {
		return true
	}

	t := field.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Slice:
		return t.Elem().Kind() != reflect.Uint8 // []byte is a column
	case reflect.Map:
		return true
	case reflect.Struct:
		if t == timeType {
			return false
		}
		if t.Implements(valuerInterface) || reflect.PointerTo(t).Implements(scannerInterface) {
			return false
		}
		return true
	}
	return false
}

// fillStruct populates a struct with values from a column-keyed map.
func fillStruct[T any](entity *T, data map[string]any) error {
	return fillStructValue(reflect.ValueOf(entity).Elem(), ParseModel[T](), data)
}

// fillStructValue is the dynamic form of fillStruct, used when the concrete
// type is only known through reflection.
func fillStructValue(val reflect.Value, info *ModelInfo, data map[string]any) error {
	for key, v := range data {
		fInfo, ok := info.Columns[key]
		if !ok {
			if fInfo, ok = info.Fields[key]; !ok {
				continue
			}
		}

		fieldVal := val.FieldByIndex(fInfo.Index)
		if !fieldVal.CanSet() {
			continue
		}
		if err := setFieldValue(fieldVal, v); err != nil {
			return err
		}
	}
	return nil
}

// setFieldValue assigns v to a struct field, converting across compatible
// types and handling pointer targets.
func setFieldValue(fieldVal reflect.Value, v any) error {
	if v == nil {
		fieldVal.Set(reflect.Zero(fieldVal.Type()))
		return nil
	}

	src := reflect.ValueOf(v)
	dst := fieldVal
	if dst.Kind() == reflect.Pointer {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}
	if src.Kind() == reflect.Pointer {
		if src.IsNil() {
			fieldVal.Set(reflect.Zero(fieldVal.Type()))
			return nil
		}
		src = src.Elem()
	}

	if !src.IsValid() {
		return nil
	}
	if src.Type() == dst.Type() {
		dst.Set(src)
		return nil
	}

	// A field implementing sql.Scanner accepts whatever the driver handed us.
	if dst.CanAddr() {
		if scanner, ok := dst.Addr().Interface().(sql.Scanner); ok {
			return scanner.Scan(v)
		}
	}

	// Drivers return strings and []byte for numeric columns more often than
	// one would hope.
	if s, ok := stringLike(src); ok {
		switch dst.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return ErrInvalidModel
			}
			dst.SetInt(n)
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return ErrInvalidModel
			}
			dst.SetUint(n)
			return nil
		case reflect.Float32, reflect.Float64:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return ErrInvalidModel
			}
			dst.SetFloat(f)
			return nil
		case reflect.Bool:
			b, err := strconv.ParseBool(s)
			if err != nil {
				return ErrInvalidModel
			}
			dst.SetBool(b)
			return nil
		}
	}

	// Numeric to string must not go through reflect's rune conversion.
	if dst.Kind() == reflect.String {
		switch src.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			dst.SetString(strconv.FormatInt(src.Int(), 10))
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			dst.SetString(strconv.FormatUint(src.Uint(), 10))
			return nil
		case reflect.Float32, reflect.Float64:
			dst.SetString(strconv.FormatFloat(src.Float(), 'f', -1, 64))
			return nil
		}
	}

	if src.Type().ConvertibleTo(dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return ErrInvalidModel
}

func stringLike(v reflect.Value) (string, bool) {
	switch {
	case v.Kind() == reflect.String:
		return v.String(), true
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
		return string(v.Bytes()), true
	}
	return "", false
}
