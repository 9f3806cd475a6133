package worker

import (
	"context"
	"testing"
	"time"

	"casedata-engine/internal/domain"
	"casedata-engine/internal/integration"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversation(id string, sequence int64, relationIDs ...string) integration.ExchangeConversation {
	return integration.ExchangeConversation{
		ID:                   id,
		Topic:                "Komplettering " + id,
		MunicipalityID:       testMunicipality,
		Namespace:            testNamespace,
		LatestSequenceNumber: sequence,
		ExternalReferences:   []integration.KeyValues{{Key: relationReferenceKey, Values: relationIDs}},
		Metadata:             []integration.KeyValues{{Key: conversationTypeMetadataKey, Values: []string{"INTERNAL"}}},
	}
}

func errandRelation(id, errandNumber string) *integration.Relation {
	return &integration.Relation{
		ID:     id,
		Type:   "LINK",
		Source: integration.ResourceIdentifier{ResourceID: "conversation-x", Service: "message-exchange"},
		Target: integration.ResourceIdentifier{ResourceID: errandNumber, Service: "case-data"},
	}
}

type syncFixture struct {
	*fixture
	source    *fakeConversationSource
	relations *fakeRelations
	worker    *ConversationSyncWorker
}

func newSyncFixture(t *testing.T, cursor int64) *syncFixture {
	f := newFixture(t)
	f.putErrand(1, "PRH-2024-000001")
	require.NoError(t, f.syncStates.Save(context.Background(), &domain.ConversationSyncState{
		MunicipalityID:             testMunicipality,
		Namespace:                  testNamespace,
		Active:                     true,
		LatestSyncedSequenceNumber: cursor,
	}))

	source := &fakeConversationSource{
		messages: map[string][]integration.ExchangeMessage{
			"conv-1": {
				{ID: "m-11", SequenceNumber: 11, Content: "Hej", Created: time.Date(2024, 6, 9, 8, 0, 0, 0, time.UTC),
					CreatedBy: integration.Identifier{Type: "adAccount", Value: "adm01"}},
				{ID: "m-12", SequenceNumber: 12, Content: "Tack", Created: time.Date(2024, 6, 9, 9, 0, 0, 0, time.UTC),
					CreatedBy:   integration.Identifier{Type: "partyId", Value: "p-1"},
					Attachments: []integration.ExchangeAttachment{{ID: "att-1", FileName: "karta.png", MimeType: "image/png"}}},
			},
		},
		attachments: map[string][]byte{"att-1": []byte("png")},
	}
	relations := &fakeRelations{relations: map[string]*integration.Relation{
		"rel-1": errandRelation("rel-1", "PRH-2024-000001"),
		"rel-3": errandRelation("rel-3", "PRH-2024-000404"),
	}}

	return &syncFixture{
		fixture:   f,
		source:    source,
		relations: relations,
		worker:    NewConversationSyncWorker(f.deps, source, relations, 50),
	}
}

func (f *syncFixture) cursor(t *testing.T) int64 {
	t.Helper()
	state, ok := f.syncStates.Get(testMunicipality, testNamespace)
	require.True(t, ok)
	return state.LatestSyncedSequenceNumber
}

func TestConversationSync_MaterializesAndSyncs(t *testing.T) {
	f := newSyncFixture(t, 10)
	f.source.pages = []integration.ConversationPage{
		{Content: []integration.ExchangeConversation{conversation("conv-1", 12, "rel-1")}, TotalPages: 2},
		// rel-2 查询失败，rel-3 对应的案件不存在
		{Content: []integration.ExchangeConversation{conversation("conv-2", 15, "rel-2", "rel-3")}, Number: 1, TotalPages: 2, Last: true},
	}

	require.NoError(t, f.worker.Run(context.Background()))

	conversations := f.conversations.All()
	require.Len(t, conversations, 1)
	c := conversations[0]
	assert.Equal(t, "conv-1", c.MessageExchangeID)
	assert.Equal(t, int64(1), c.ErrandID)
	assert.Equal(t, []string{"rel-1"}, c.RelationIDs)
	assert.Equal(t, "Komplettering conv-1", c.Topic)
	assert.Equal(t, "INTERNAL", c.Type)
	assert.Equal(t, int64(12), c.LatestSyncedSequenceNumber)

	messages := f.messages.All()
	require.Len(t, messages, 2)
	assert.Equal(t, "m-11@1", messages[0].ID)
	assert.Equal(t, domain.DirectionOutbound, messages[0].Direction)
	assert.Equal(t, domain.DirectionInbound, messages[1].Direction)
	assert.Equal(t, domain.MessageTypeExchange, messages[1].MessageType)
	require.Len(t, f.attachments.All(), 1)
	assert.Equal(t, "m-12@1", f.attachments.All()[0].MessageID)

	require.Len(t, f.notifications.All(), 1)
	assert.Equal(t, "adm01", f.notifications.All()[0].OwnerID)

	assert.Equal(t, int64(15), f.cursor(t), "cursor advances past failed conversations")
	assert.Equal(t, []int64{10, 10}, f.source.afters, "all pages use the cursor the run started with")
}

func TestConversationSync_RerunDoesNotDuplicate(t *testing.T) {
	f := newSyncFixture(t, 10)
	f.source.pages = []integration.ConversationPage{
		{Content: []integration.ExchangeConversation{conversation("conv-1", 12, "rel-1")}, TotalPages: 1, Last: true},
	}

	require.NoError(t, f.worker.Run(context.Background()))
	require.NoError(t, f.worker.Run(context.Background()))

	assert.Len(t, f.conversations.All(), 1)
	assert.Len(t, f.messages.All(), 2)
	assert.Len(t, f.notifications.All(), 1)
	// rel-1 已记录，第二轮不再查询
	assert.Equal(t, []string{"rel-1"}, f.relations.calls)
	assert.Equal(t, []int64{10, 12}, f.source.afters)
}

func TestConversationSync_CursorNeverDecreases(t *testing.T) {
	f := newSyncFixture(t, 20)
	f.source.pages = []integration.ConversationPage{
		{Content: []integration.ExchangeConversation{conversation("conv-9", 3, "rel-2")}, TotalPages: 1, Last: true},
	}

	require.NoError(t, f.worker.Run(context.Background()))
	assert.Equal(t, int64(20), f.cursor(t))

	f.source.pages[0].Content[0].LatestSequenceNumber = 25
	require.NoError(t, f.worker.Run(context.Background()))
	assert.Equal(t, int64(25), f.cursor(t))

	f.source.pages[0].Content[0].LatestSequenceNumber = 21
	require.NoError(t, f.worker.Run(context.Background()))
	assert.Equal(t, int64(25), f.cursor(t))
}

func TestConversationSync_InactiveStateIgnored(t *testing.T) {
	f := newSyncFixture(t, 10)
	require.NoError(t, f.syncStates.Save(context.Background(), &domain.ConversationSyncState{
		MunicipalityID:             testMunicipality,
		Namespace:                  testNamespace,
		Active:                     false,
		LatestSyncedSequenceNumber: 10,
	}))

	require.NoError(t, f.worker.Run(context.Background()))

	assert.Empty(t, f.source.afters)
}

func TestConversationSync_SecondRelationToSameErrandIsRecorded(t *testing.T) {
	f := newSyncFixture(t, 10)
	f.relations.relations["rel-4"] = errandRelation("rel-4", "PRH-2024-000001")
	f.source.pages = []integration.ConversationPage{
		{Content: []integration.ExchangeConversation{conversation("conv-1", 12, "rel-1", "rel-4")}, TotalPages: 1, Last: true},
	}

	require.NoError(t, f.worker.Run(context.Background()))

	conversations := f.conversations.All()
	require.Len(t, conversations, 1)
	assert.Equal(t, []string{"rel-1", "rel-4"}, conversations[0].RelationIDs)
}
