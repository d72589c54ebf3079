package artifacts

import (
	"fmt"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/models"
)

// DiffResult is the structured comparison of two versions in one chain.
type DiffResult struct {
	ArtifactType models.ArtifactType    `json:"artifact_type"`
	Role         string                 `json:"role,omitempty"`
	FromVersion  int                    `json:"from_version"`
	ToVersion    int                    `json:"to_version"`
	Diff         map[string]interface{} `json:"diff"`
}

// scalarChange records a metadata field that differs between versions.
type scalarChange struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// Diff compares two artifact rows of the same (job, type, role) chain.
// Charts get a deep metadata diff, PDFs and text a scalar one; the
// remaining types have no diffable metadata and are rejected.
func Diff(from, to *models.Artifact) (*DiffResult, error) {
	if from.JobID != to.JobID || from.Type != to.Type || from.Role != to.Role {
		return nil, common.NewError(common.KindValidation,
			"artifacts %s and %s belong to different version chains", from.ID, to.ID)
	}

	var diff map[string]interface{}
	switch from.Type {
	case models.ArtifactTypeChart:
		diff = diffChart(from.Metadata, to.Metadata)
	case models.ArtifactTypePDF:
		diff = diffScalars(from.Metadata, to.Metadata, []string{"pages", "embedded_artifacts", "section_count"})
	case models.ArtifactTypeText:
		diff = diffScalars(from.Metadata, to.Metadata, []string{"size"})
	default:
		return nil, common.NewError(common.KindValidation,
			"diff is not supported for artifact type %q", from.Type)
	}

	return &DiffResult{
		ArtifactType: from.Type,
		Role:         from.Role,
		FromVersion:  from.Version,
		ToVersion:    to.Version,
		Diff:         diff,
	}, nil
}

// diffChart compares chart metadata: title/chart_type/data_points as
// scalars, point sets keyed by "x:y", labels and config recursively.
func diffChart(from, to map[string]interface{}) map[string]interface{} {
	added := map[string]interface{}{}
	removed := map[string]interface{}{}
	changed := map[string]interface{}{}

	for _, field := range []string{"title", "chart_type", "data_points"} {
		if c, ok := scalarDiff(from[field], to[field]); ok {
			changed[field] = c
		}
	}

	pointsAdded, pointsRemoved := diffPointSet(pointList(from["points"]), pointList(to["points"]))
	if len(pointsAdded) > 0 {
		added["points"] = pointsAdded
	}
	if len(pointsRemoved) > 0 {
		removed["points"] = pointsRemoved
	}

	seriesAdded, seriesRemoved := diffSeries(from["series"], to["series"])
	if len(seriesAdded) > 0 {
		added["series"] = seriesAdded
	}
	if len(seriesRemoved) > 0 {
		removed["series"] = seriesRemoved
	}

	for _, field := range []string{"labels", "config"} {
		fromObj, _ := from[field].(map[string]interface{})
		toObj, _ := to[field].(map[string]interface{})
		if nested := diffObjects(fromObj, toObj); len(nested) > 0 {
			changed[field] = nested
		}
	}

	return assemble(added, removed, changed)
}

// diffScalars compares a fixed list of metadata fields.
func diffScalars(from, to map[string]interface{}, fields []string) map[string]interface{} {
	changed := map[string]interface{}{}
	for _, field := range fields {
		if c, ok := scalarDiff(from[field], to[field]); ok {
			changed[field] = c
		}
	}
	return assemble(nil, nil, changed)
}

func scalarDiff(from, to interface{}) (scalarChange, bool) {
	if fmt.Sprintf("%v", from) == fmt.Sprintf("%v", to) {
		return scalarChange{}, false
	}
	return scalarChange{From: from, To: to}, true
}

// pointKey identifies a data point within a set.
func pointKey(point map[string]interface{}) string {
	return fmt.Sprintf("%v:%v", point["x"], point["y"])
}

func pointList(raw interface{}) []map[string]interface{} {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var points []map[string]interface{}
	for _, elem := range list {
		if point, ok := elem.(map[string]interface{}); ok {
			points = append(points, point)
		}
	}
	return points
}

// diffPointSet returns the points present only in to (added) and only in
// from (removed), keyed by x:y. Points are set members, not ordered rows.
func diffPointSet(from, to []map[string]interface{}) ([]map[string]interface{}, []map[string]interface{}) {
	fromKeys := make(map[string]bool, len(from))
	for _, p := range from {
		fromKeys[pointKey(p)] = true
	}
	toKeys := make(map[string]bool, len(to))
	for _, p := range to {
		toKeys[pointKey(p)] = true
	}

	var added, removed []map[string]interface{}
	for _, p := range to {
		if !fromKeys[pointKey(p)] {
			added = append(added, p)
		}
	}
	for _, p := range from {
		if !toKeys[pointKey(p)] {
			removed = append(removed, p)
		}
	}
	return added, removed
}

// diffSeries applies the point-set diff to each named series' data.
func diffSeries(fromRaw, toRaw interface{}) (map[string]interface{}, map[string]interface{}) {
	fromSeries := seriesMap(fromRaw)
	toSeries := seriesMap(toRaw)

	added := map[string]interface{}{}
	removed := map[string]interface{}{}

	names := make(map[string]bool)
	for name := range fromSeries {
		names[name] = true
	}
	for name := range toSeries {
		names[name] = true
	}

	for name := range names {
		a, r := diffPointSet(fromSeries[name], toSeries[name])
		if len(a) > 0 {
			added[name] = a
		}
		if len(r) > 0 {
			removed[name] = r
		}
	}
	return added, removed
}

func seriesMap(raw interface{}) map[string][]map[string]interface{} {
	out := make(map[string][]map[string]interface{})
	list, ok := raw.([]interface{})
	if !ok {
		return out
	}
	for i, elem := range list {
		series, ok := elem.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := series["name"].(string)
		if name == "" {
			name = fmt.Sprintf("series_%d", i)
		}
		out[name] = pointList(series["data"])
	}
	return out
}

// diffObjects recursively compares two maps and reports changed leaves as
// {from, to} pairs. Keys present on only one side count as changes against
// a nil counterpart.
func diffObjects(from, to map[string]interface{}) map[string]interface{} {
	changed := map[string]interface{}{}

	keys := make(map[string]bool)
	for k := range from {
		keys[k] = true
	}
	for k := range to {
		keys[k] = true
	}

	for key := range keys {
		fromVal := from[key]
		toVal := to[key]

		fromObj, fromIsObj := fromVal.(map[string]interface{})
		toObj, toIsObj := toVal.(map[string]interface{})
		if fromIsObj && toIsObj {
			if nested := diffObjects(fromObj, toObj); len(nested) > 0 {
				changed[key] = nested
			}
			continue
		}

		if c, ok := scalarDiff(fromVal, toVal); ok {
			changed[key] = c
		}
	}
	return changed
}

func assemble(added, removed, changed map[string]interface{}) map[string]interface{} {
	diff := map[string]interface{}{}
	if len(added) > 0 {
		diff["added"] = added
	}
	if len(removed) > 0 {
		diff["removed"] = removed
	}
	if len(changed) > 0 {
		diff["changed"] = changed
	}
	return diff
}
