package engine

import (
	"fmt"

	"github.com/roach88/reduce/internal/ir"
)

// AddRequest queues a request for the control loop.
func (rc *ReductionContext) AddRequest(r ir.Request) {
	rc.requests.Enqueue(r)
}

// Requests returns the queued requests in order.
func (rc *ReductionContext) Requests() []ir.Request {
	return rc.requests.Snapshot()
}

// ClearRequests removes queued requests of the given kinds, or all of
// them when no kind is given.
func (rc *ReductionContext) ClearRequests(kinds ...ir.RequestKind) {
	rc.requests.Clear(kinds...)
}

// RequestCalibration queues one calibration request per dataset. With no
// datasets the original inputs are used. source is "all", "local" or
// "remote".
func (rc *ReductionContext) RequestCalibration(caltype, source string, ds ...ir.Dataset) error {
	if caltype == "" {
		return fmt.Errorf("calibration request needs a calibration type")
	}
	if source == "" {
		source = "all"
	}
	if len(ds) == 0 {
		ds = rc.originalInputs
	}
	for _, d := range ds {
		id, err := rc.identify.Identify(d)
		if err != nil {
			return err
		}
		rc.AddRequest(ir.CalibrationRequest{
			Filename:  d.Filename,
			DatasetID: id,
			CalType:   caltype,
			Source:    source,
			Meta:      d.Meta,
		})
	}
	return nil
}

// RequestStackGet queues a request for the stack of each original input.
func (rc *ReductionContext) RequestStackGet(purpose string) error {
	for _, d := range rc.originalInputs {
		id, err := rc.stackableID(d, purpose)
		if err != nil {
			return err
		}
		rc.AddRequest(ir.StackGetRequest{StackID: id})
	}
	return nil
}

// RequestStackUpdate queues a request adding each current input to its
// stack.
func (rc *ReductionContext) RequestStackUpdate(purpose string) error {
	for _, d := range rc.inputs {
		id, err := rc.stackableID(d, purpose)
		if err != nil {
			return err
		}
		rc.AddRequest(ir.StackUpdateRequest{StackID: id, Filenames: []string{d.Filename}})
	}
	return nil
}

// StackableID returns the stack id of ds for purpose.
func (rc *ReductionContext) StackableID(ds ir.Dataset, purpose string) (string, error) {
	return rc.stackableID(ds, purpose)
}

func (rc *ReductionContext) stackableID(ds ir.Dataset, purpose string) (string, error) {
	if !ds.HasIdentity() {
		id, err := rc.identify.Identify(ds)
		if err != nil {
			return "", err
		}
		ds.Checksum = id
	}
	return ir.StackableID(ds, purpose, idVersion)
}

// RequestDisplay queues a display of the current inputs. An empty
// displayID is derived from the first input.
func (rc *ReductionContext) RequestDisplay(displayID string) error {
	if len(rc.inputs) == 0 {
		return fmt.Errorf("display request with no inputs")
	}
	if displayID == "" {
		displayID = ir.DisplayID(rc.inputs[0].Filename, idVersion)
	}
	rc.AddRequest(ir.DisplayRequest{DisplayID: displayID, Filenames: rc.InputFilenames()})
	return nil
}

// RequestImageQuality queues an image quality report for ds.
func (rc *ReductionContext) RequestImageQuality(ds ir.Dataset, ellMean, ellStd, fwhmMean, fwhmStd float64) {
	rc.AddRequest(ir.ImageQualityRequest{
		Filename:        ds.Filename,
		EllipticityMean: ellMean,
		EllipticityStd:  ellStd,
		FWHMMean:        fwhmMean,
		FWHMStd:         fwhmStd,
		Timestamp:       rc.wall.Now(),
	})
}

// RequestClearCache queues emptying of the named caches, or every cache.
func (rc *ReductionContext) RequestClearCache(caches ...string) {
	rc.AddRequest(ir.ClearCacheRequest{Caches: caches})
}
