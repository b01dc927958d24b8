package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/mux"

	"github.com/sutehoge/catapult-server/internal/finality/storage"
	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

// FinalityAPI serves the finalization status and stored proofs.
type FinalityAPI struct {
	proofStorage *storage.ProofStorageCache
}

func NewFinalityAPI(proofStorage *storage.ProofStorageCache) *FinalityAPI {
	return &FinalityAPI{proofStorage: proofStorage}
}

func (api *FinalityAPI) Register(r *mux.Router) {
	r.HandleFunc("/finalization/statistics", api.getStatistics).Methods(http.MethodGet)
	r.HandleFunc("/finalization/proof/epoch/{epoch}", api.getProofAtEpoch).Methods(http.MethodGet)
	r.HandleFunc("/finalization/proof/height/{height}", api.getProofAtHeight).Methods(http.MethodGet)
}

type statisticsResponse struct {
	Epoch  types.FinalizationEpoch `json:"epoch"`
	Point  types.FinalizationPoint `json:"point"`
	Height types.Height            `json:"height"`
	Hash   string                  `json:"hash"`
}

func (api *FinalityAPI) getStatistics(w http.ResponseWriter, _ *http.Request) {
	view := api.proofStorage.View()
	statistics := view.Statistics()
	view.Release()

	w.Header().Set(headerContentType, applicationJSON)
	err := json.NewEncoder(w).Encode(statisticsResponse{
		Epoch:  statistics.Round.Epoch,
		Point:  statistics.Round.Point,
		Height: statistics.Height,
		Hash:   statistics.Hash.String(),
	})
	if err != nil {
		log.Warning("writing statistics response failed: %v", err)
	}
}

func (api *FinalityAPI) getProofAtEpoch(w http.ResponseWriter, r *http.Request) {
	epoch, err := strconv.ParseUint(mux.Vars(r)["epoch"], 10, 32)
	if err != nil {
		http.Error(w, "invalid epoch", http.StatusBadRequest)
		return
	}

	view := api.proofStorage.View()
	proof, err := view.LoadProofAtEpoch(types.FinalizationEpoch(epoch))
	view.Release()
	api.writeProof(w, proof, err)
}

func (api *FinalityAPI) getProofAtHeight(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		http.Error(w, "invalid height", http.StatusBadRequest)
		return
	}

	view := api.proofStorage.View()
	proof, err := view.LoadProofAtHeight(types.Height(height))
	view.Release()
	api.writeProof(w, proof, err)
}

func (api *FinalityAPI) writeProof(w http.ResponseWriter, proof *fp.Proof, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if proof == nil {
		http.Error(w, "no proof at requested location", http.StatusNotFound)
		return
	}

	data, err := cbor.Marshal(proof)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set(headerContentType, applicationCBOR)
	if _, err := w.Write(data); err != nil {
		log.Warning("writing proof response failed: %v", err)
	}
}
