package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
)

// FromDataset builds a descriptor from an already-parsed dataset. The
// source string is recorded on the descriptor for audit.
func FromDataset(ds dicom.Dataset, src string) (*hierarchy.ObjectDescriptor, error) {
	modality, _ := elementString(ds, tag.Modality)

	desc := &hierarchy.ObjectDescriptor{
		Type:   hierarchy.ObjectTypeForModality(modality),
		Source: src,
	}
	desc.InstanceID, _ = elementString(ds, tag.SOPInstanceUID)
	desc.SeriesID, _ = elementString(ds, tag.SeriesInstanceUID)
	desc.StudyID, _ = elementString(ds, tag.StudyInstanceUID)
	desc.PatientID, _ = elementString(ds, tag.PatientID)
	desc.FrameOfReference, _ = elementString(ds, tag.FrameOfReferenceUID)
	desc.Ordinal = ordinalHint(ds)
	desc.References = referenceFields(ds, desc.Type)

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	hash, err := hierarchy.HashHeader(desc, headerSnapshot(ds))
	if err != nil {
		return nil, err
	}
	desc.ContentHash = hash
	return desc, nil
}

// ordinalHint derives the slice-position ordering hint: SliceLocation
// when present, else InstanceNumber. Objects carrying neither (plans,
// doses, structure sets) order at zero and fall back to lexical
// instance id order.
func ordinalHint(ds dicom.Dataset) float64 {
	if s, ok := elementString(ds, tag.SliceLocation); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v
		}
	}
	if s, ok := elementString(ds, tag.InstanceNumber); ok {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return float64(v)
		}
	}
	return 0
}

// referenceFields collects the cross-object references an object type
// is known to carry. The mapping is closed over the object types:
//
//	structure set -> referenced image series
//	plan          -> referenced structure set
//	dose          -> referenced plan, referenced structure set
//
// Series-level references carry a series identifier; the SOP-level
// ones carry an instance identifier the linker resolves to its owning
// series.
func referenceFields(ds dicom.Dataset, typ hierarchy.ObjectType) []hierarchy.ReferenceField {
	var refs []hierarchy.ReferenceField
	add := func(ids []string, target hierarchy.ObjectType) {
		for _, id := range ids {
			if id == "" {
				continue
			}
			refs = append(refs, hierarchy.ReferenceField{TargetID: id, TargetType: target})
		}
	}

	switch typ {
	case hierarchy.ObjectStructureSet:
		add(sequenceStrings(ds, tag.ReferencedFrameOfReferenceSequence, tag.SeriesInstanceUID), hierarchy.ObjectImage)
	case hierarchy.ObjectPlan:
		add(sequenceStrings(ds, tag.ReferencedStructureSetSequence, tag.ReferencedSOPInstanceUID), hierarchy.ObjectStructureSet)
	case hierarchy.ObjectDose:
		add(sequenceStrings(ds, tag.ReferencedRTPlanSequence, tag.ReferencedSOPInstanceUID), hierarchy.ObjectPlan)
		add(sequenceStrings(ds, tag.ReferencedStructureSetSequence, tag.ReferencedSOPInstanceUID), hierarchy.ObjectStructureSet)
	}
	return dedupeRefs(refs)
}

func dedupeRefs(refs []hierarchy.ReferenceField) []hierarchy.ReferenceField {
	seen := make(map[hierarchy.ReferenceField]bool, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// headerSnapshot renders every non-pixel header element to a string,
// keyed by tag. This is the content that participates in the duplicate
// detection hash: any header difference between two objects claiming
// the same instance id shows up here.
func headerSnapshot(ds dicom.Dataset) map[string]string {
	snap := make(map[string]string, len(ds.Elements))
	for _, el := range ds.Elements {
		if el == nil || el.Tag == tag.PixelData {
			continue
		}
		key := fmt.Sprintf("%04x,%04x", el.Tag.Group, el.Tag.Element)
		snap[key] = fmt.Sprint(el.Value)
	}
	return snap
}

// elementString returns the first string value of a top-level element.
func elementString(ds dicom.Dataset, t tag.Tag) (string, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil {
		return "", false
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok || len(vals) == 0 {
		return "", false
	}
	return strings.TrimSpace(vals[0]), true
}

// sequenceStrings walks the sequence rooted at root and collects every
// value of want found at any nesting depth. Reference sequences nest
// differently per object type (frame-of-reference references bury the
// series ids two levels down), so the walk is depth-first and
// tag-driven rather than path-driven.
func sequenceStrings(ds dicom.Dataset, root, want tag.Tag) []string {
	el, err := ds.FindElementByTag(root)
	if err != nil || el == nil {
		return nil
	}
	var out []string
	walkElement(el, want, &out)
	return out
}

func walkElement(el *dicom.Element, want tag.Tag, out *[]string) {
	if el == nil {
		return
	}
	if el.Tag == want {
		if vals, ok := el.Value.GetValue().([]string); ok {
			for _, v := range vals {
				*out = append(*out, strings.TrimSpace(v))
			}
		}
		return
	}
	items, ok := el.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return
	}
	for _, item := range items {
		elems, ok := item.GetValue().([]*dicom.Element)
		if !ok {
			continue
		}
		for _, nested := range elems {
			walkElement(nested, want, out)
		}
	}
}
