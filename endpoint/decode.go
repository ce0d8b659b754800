package endpoint

import (
	"encoding"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit bounds the byte length of any single decoded value.
var defaultFieldLimit = 16 * 1024

// defaultBodyLimit bounds the size of a url-encoded request body.
var defaultBodyLimit int64 = 64 * 1024

// Unmarshal populates dst (a non-nil pointer to a struct) from the request.
//
// Supported struct tags, in order of precedence:
//   - `path:"name"`   r.PathValue(name)
//   - `query:"name"`  r.URL.Query()
//   - `form:"name"`   url-encoded body fields
//   - `header:"name"` r.Header
//   - `cookie:"name"` raw cookie value
//
// `maxLength:"n"` overrides the default 16KB per-value limit; `maxLength:""`
// disables it. Fields may be string, bool, integer, []string or implement
// encoding.TextUnmarshaler. Missing values leave the field unchanged.
//
// Form fields are read only from application/x-www-form-urlencoded bodies.
// Other content types leave form fields empty rather than failing, so the
// endpoint can decide how to report an unsupported media type.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	query := url.Values{}
	if r.URL != nil {
		query = r.URL.Query()
	}
	form, err := parseURLEncodedForm(r)
	if err != nil {
		return err
	}

	sources := []struct {
		tag   string
		fetch func(name string) []string
	}{
		{"path", func(name string) []string {
			if s := r.PathValue(name); s != "" {
				return []string{s}
			}
			return nil
		}},
		{"query", func(name string) []string { return query[name] }},
		{"form", func(name string) []string { return form[name] }},
		{"header", func(name string) []string { return r.Header[http.CanonicalHeaderKey(name)] }},
		{"cookie", func(name string) []string {
			var out []string
			for _, c := range r.Cookies() {
				if c.Name == name {
					out = append(out, c.Value)
				}
			}
			return out
		}},
	}

	t := root.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}
		for _, src := range sources {
			name, ok := sf.Tag.Lookup(src.tag)
			if !ok || name == "-" {
				continue
			}
			if name == "" {
				name = strings.ToLower(sf.Name)
			}
			values := src.fetch(name)
			if len(values) == 0 {
				continue
			}
			for _, s := range values {
				if limit > 0 && len(s) > limit {
					return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q: value exceeds max length %d", src.tag, name, limit))
				}
			}
			if err := setField(root.Field(i), values); err != nil {
				return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", src.tag, name, sf.Name, err))
			}
			break
		}
	}
	return nil
}

// MediaType returns the lowercased media type of the request body, without parameters.
func MediaType(r *http.Request) string {
	ct := strings.TrimSpace(r.Header.Get("Content-Type"))
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return strings.ToLower(mt)
}

func parseURLEncodedForm(r *http.Request) (url.Values, error) {
	if r.Body == nil || r.Body == http.NoBody || MediaType(r) != "application/x-www-form-urlencoded" {
		return url.Values{}, nil
	}
	r.Body = http.MaxBytesReader(nil, r.Body, defaultBodyLimit)
	if err := r.ParseForm(); err != nil {
		return url.Values{}, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("parse form: %w", err))
	}
	return r.PostForm, nil
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("maxLength: invalid integer %q", val)
	}
	if n < 0 {
		return 0, errors.New("maxLength: must be >= 0")
	}
	return n, nil
}

func setField(v reflect.Value, values []string) error {
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.String {
		v.Set(reflect.ValueOf(append([]string(nil), values...)).Convert(v.Type()))
		return nil
	}
	s := values[0]

	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(s))
		}
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}
