package importer

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openartmap/openartmap/internal/catalog"
)

// FieldError is one structural violation in a rejected job.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects a whole job. Malformed input is a caller contract
// violation: the job is refused in full, with every violation listed, so the
// caller can fix and resubmit once.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("job validation failed: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("job validation failed: %d violations", len(e.Errors))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate performs the fail-fast structural check over the whole job.
// Returns nil when the job is acceptable, or a ValidationError carrying every
// violation found.
func (j *Job) Validate() *ValidationError {
	var errs []FieldError

	if strings.TrimSpace(j.Source.Plugin) == "" {
		errs = append(errs, FieldError{Field: "metadata.source.plugin", Message: "source plugin is required"})
	}
	if len(j.Artworks) == 0 && len(j.Creators) == 0 {
		errs = append(errs, FieldError{Field: "data", Message: "job contains no records"})
	}

	errs = append(errs, validateConfig(j.Config)...)

	for i := range j.Artworks {
		errs = append(errs, validateArtwork(&j.Artworks[i], i)...)
	}
	for i := range j.Creators {
		errs = append(errs, validateCreator(&j.Creators[i], i)...)
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

func validateConfig(c Config) []FieldError {
	var errs []FieldError
	errs = append(errs, structErrors(c, "config")...)
	if c.WarningThreshold > c.DuplicateThreshold && c.DuplicateThreshold > 0 {
		errs = append(errs, FieldError{
			Field:   "config.warningThreshold",
			Message: "warning threshold must not exceed the duplicate threshold",
		})
	}
	for name := range c.SignalWeights {
		switch name {
		case "distance", "title", "artistName", "tagOverlap", "externalId", "distanceCutoffMeters":
		default:
			errs = append(errs, FieldError{
				Field:   "config.signalWeights." + name,
				Message: "unknown signal name",
			})
		}
	}
	return errs
}

func validateArtwork(a *ArtworkImportRecord, i int) []FieldError {
	prefix := fmt.Sprintf("data.artworks[%d]", i)
	var errs []FieldError
	errs = append(errs, structErrors(a, prefix)...)

	if a.Lat != nil && (*a.Lat < -90 || *a.Lat > 90) {
		errs = append(errs, FieldError{
			Field:   prefix + ".lat",
			Message: fmt.Sprintf("latitude %v is outside [-90, 90]", *a.Lat),
		})
	}
	if a.Lon != nil && (*a.Lon < -180 || *a.Lon > 180) {
		errs = append(errs, FieldError{
			Field:   prefix + ".lon",
			Message: fmt.Sprintf("longitude %v is outside [-180, 180]", *a.Lon),
		})
	}
	errs = append(errs, tagMapErrors(a.Tags, prefix)...)

	for pi, p := range a.Photos {
		if u, err := url.Parse(p.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("%s.photos[%d].url", prefix, pi),
				Message: "photo url must be absolute http or https",
			})
		}
	}
	return errs
}

func validateCreator(c *CreatorImportRecord, i int) []FieldError {
	prefix := fmt.Sprintf("data.creators[%d]", i)
	errs := structErrors(c, prefix)
	errs = append(errs, tagMapErrors(c.Tags, prefix)...)
	return errs
}

// tagMapErrors checks tag map well-formedness. Values are already constrained
// to scalars at decode time; only degenerate keys can slip through.
func tagMapErrors(tags catalog.TagMap, prefix string) []FieldError {
	for k := range tags {
		if strings.TrimSpace(k) == "" {
			return []FieldError{{Field: prefix + ".tags", Message: "tag keys must be non-empty"}}
		}
	}
	return nil
}

// structErrors runs tag-based validation and rewrites the field namespace to
// the job envelope's JSON shape.
func structErrors(v any, prefix string) []FieldError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: prefix, Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "TypeName.field.subfield"; swap the type for the
		// envelope prefix.
		ns := fe.Namespace()
		if idx := strings.Index(ns, "."); idx >= 0 {
			ns = ns[idx+1:]
		}
		out = append(out, FieldError{
			Field:   prefix + "." + ns,
			Message: messageFor(fe),
		})
	}
	return out
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "value is required"
	case "gte":
		return "value must be at least " + fe.Param()
	case "lte":
		return "value must be at most " + fe.Param()
	default:
		return "value is invalid (" + fe.Tag() + ")"
	}
}
