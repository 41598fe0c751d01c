package qc

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// QCSummary is the per-dataset message published after each scoring run.
type QCSummary struct {
	Dataset   string       `json:"dataset"`
	Reference string       `json:"reference,omitempty"`
	Cells     int          `json:"cells"`
	FailCount int          `json:"failCount"`
	Groups    []GroupStats `json:"groups"`
	Timestamp int64        `json:"timestamp"`
}

// Publisher publishes QC summaries to MQTT after each scored batch.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	summaries     map[string]*QCSummary
	mu            sync.RWMutex
}

// NewPublisher creates a new QC summary publisher. The topic prefix comes
// from the MQTT_PUBLISH_PREFIX env var, then configPrefix, then "mapqc".
// If client is nil, publishing is disabled (for testing).
func NewPublisher(client mqtt.Client, configPrefix string) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = configPrefix
	}
	if prefix == "" {
		prefix = "mapqc"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true, // retain latest summary per dataset
		summaries:     make(map[string]*QCSummary),
	}
}

// PublishReport publishes a dataset's QC summary to its individual topic
// and refreshes the combined summary topic.
func (p *Publisher) PublishReport(report *Report) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	summary := &QCSummary{
		Dataset:   report.Dataset,
		Reference: report.Reference,
		Cells:     len(report.Cells),
		FailCount: report.FailCount(),
		Groups:    report.Groups,
		Timestamp: time.Now().Unix(),
	}

	p.mu.Lock()
	p.summaries[report.Dataset] = summary
	p.mu.Unlock()

	// Individual topic: mapqc/{dataset}
	if err := p.publishIndividual(summary); err != nil {
		log.Printf("[MQTT] error publishing summary for %s: %v", report.Dataset, err)
		return err
	}

	// Combined topic: mapqc/summaries
	if err := p.publishCombined(); err != nil {
		log.Printf("[MQTT] error publishing combined summaries: %v", err)
		return err
	}

	return nil
}

func (p *Publisher) publishIndividual(s *QCSummary) error {
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, s.Dataset)

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("[MQTT] published summary for %s: %d cells, %d fail",
		s.Dataset, s.Cells, s.FailCount)
	return nil
}

func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	summaries := make([]*QCSummary, 0, len(p.summaries))
	for _, s := range p.summaries {
		summaries = append(summaries, s)
	}
	p.mu.RUnlock()

	if len(summaries) == 0 {
		return nil
	}

	topic := fmt.Sprintf("%s/summaries", p.publishPrefix)

	message := map[string]interface{}{
		"datasets":  summaries,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined summaries: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	return nil
}

// GetSummary returns the last published summary for a dataset.
func (p *Publisher) GetSummary(dataset string) (*QCSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.summaries[dataset]
	return s, ok
}

// ClearSummary removes a dataset's summary (e.g., when decommissioned).
func (p *Publisher) ClearSummary(dataset string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.summaries, dataset)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2).
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker.
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
