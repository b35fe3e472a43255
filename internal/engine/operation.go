// Package engine decodes wire requests and dispatches them to the session manager.
package engine

// Operation is a request kind. The set is closed; names map through a table built at init.
type Operation int

const (
	OpSelfTest Operation = iota + 1
	OpGetQueryID
	OpAddPosTrs
	OpAddNegTrs
	OpTrain
	OpRank
	OpGetRanking
	OpReleaseQueryID
	OpSaveAnnotations
	OpGetAnnotations
	OpLoadClassifier
	OpSaveClassifier
	OpTestFunc
)

var operationNames = map[Operation]string{
	OpSelfTest:        "selfTest",
	OpGetQueryID:      "getQueryId",
	OpAddPosTrs:       "addPosTrs",
	OpAddNegTrs:       "addNegTrs",
	OpTrain:           "train",
	OpRank:            "rank",
	OpGetRanking:      "getRanking",
	OpReleaseQueryID:  "releaseQueryId",
	OpSaveAnnotations: "saveAnnotations",
	OpGetAnnotations:  "getAnnotations",
	OpLoadClassifier:  "loadClassifier",
	OpSaveClassifier:  "saveClassifier",
	OpTestFunc:        "testFunc",
}

var operationsByName = func() map[string]Operation {
	m := make(map[string]Operation, len(operationNames))
	for op, name := range operationNames {
		m[name] = op
	}
	return m
}()

// ParseOperation resolves a wire name such as "getQueryId".
func ParseOperation(name string) (Operation, bool) {
	op, ok := operationsByName[name]
	return op, ok
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return "unknown"
}
