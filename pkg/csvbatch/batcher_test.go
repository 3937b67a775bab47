package csvbatch

import (
	"fmt"
	"iter"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/record"
)

func seq(records ...record.Record) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func collect(t *testing.T, b *Batcher, src iter.Seq2[record.Record, error]) []Batch {
	t.Helper()
	var out []Batch
	for batch, err := range b.Batches(src) {
		require.NoError(t, err)
		out = append(out, batch)
	}
	return out
}

func account(name string) record.Record {
	return record.NewBuilder("Account").Set("Name", record.String(name)).Build()
}

// randomRecords builds records with overlapping, differently cased field sets
// and values that exercise quoting.
func randomRecords(rng *rand.Rand, n int) []record.Record {
	names := []string{"Name", "name", "Phone", "Description", "AnnualRevenue", "Website", "Rating"}
	values := []string{"plain", "with,comma", `with "quotes"`, "multi\nline", " padded ", "", "ünïcödé"}

	records := make([]record.Record, n)
	for i := range records {
		b := record.NewBuilder("Account")
		fields := 1 + rng.Intn(4)
		for j := 0; j < fields; j++ {
			name := names[rng.Intn(len(names))]
			switch rng.Intn(4) {
			case 0:
				b.Set(name, record.Int(rng.Int63n(1_000_000)))
			case 1:
				b.Set(name, record.Null())
			default:
				b.Set(name, record.String(strings.Repeat(values[rng.Intn(len(values))], 1+rng.Intn(3))))
			}
		}
		records[i] = b.Build()
	}
	return records
}

func TestBatches_PartitionAndCeiling(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	records := randomRecords(rng, 500)

	for _, ceiling := range []int{40, 120, 512, 4096, 1 << 20} {
		t.Run(fmt.Sprintf("ceiling_%d", ceiling), func(t *testing.T) {
			batches := collect(t, New(ceiling), seq(records...))

			var joined []record.Record
			for i, batch := range batches {
				assert.Equal(t, i, batch.Index)
				require.NotEmpty(t, batch.Records)
				joined = append(joined, batch.Records...)

				encoded := batch.Bytes()
				assert.Equal(t, batch.Size, len(encoded), "batch %d size must match its encoding", i)
				if batch.Oversized {
					assert.Len(t, batch.Records, 1)
					assert.Greater(t, batch.Size, ceiling)
				} else {
					assert.LessOrEqual(t, batch.Size, ceiling)
				}
			}

			require.Len(t, joined, len(records))
			for i := range records {
				assert.True(t, records[i].Equal(joined[i]), "record %d out of place", i)
			}
		})
	}
}

func TestBatches_Deterministic(t *testing.T) {
	records := randomRecords(rand.New(rand.NewSource(42)), 300)
	batcher := New(700)

	first := collect(t, batcher, seq(records...))
	second := collect(t, batcher, seq(records...))

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Len(), second[i].Len())
		assert.Equal(t, first[i].Header, second[i].Header)
		assert.Equal(t, first[i].Bytes(), second[i].Bytes())
	}
}

func TestBatch_CSVLayout(t *testing.T) {
	records := []record.Record{
		record.NewBuilder("Contact").
			Set("LastName", record.String("O'Hara, Scarlett")).
			Set("email", record.String("s@example.com")).
			Set("Bio", record.String("said \"hi\"\nthen left")).
			Build(),
		record.NewBuilder("Contact").
			Set("LastName", record.String(" Butler ")).
			Set("Email", record.String("r@example.com")).
			Set("Active__c", record.Bool(true)).
			Set("Score__c", record.Float(9.5)).
			Set("Notes__c", record.Null()).
			Build(),
	}

	batches := collect(t, New(0), seq(records...))
	require.Len(t, batches, 1)

	want := "Active__c,Bio,email,LastName,Notes__c,Score__c\n" +
		",\"said \"\"hi\"\"\nthen left\",s@example.com,\"O'Hara, Scarlett\",,\n" +
		"true,,r@example.com,\" Butler \",#N/A,9.5\n"
	assert.Equal(t, want, string(batches[0].Bytes()))
	assert.Equal(t, len(want), batches[0].Size)
	assert.Equal(t, []string{"Active__c", "Bio", "email", "LastName", "Notes__c", "Score__c"}, batches[0].Header)
}

func TestBatches_CarryForward(t *testing.T) {
	// "Name\n" is 5 bytes and every row "aaaa\n" another 5.
	records := []record.Record{account("aaaa"), account("bbbb"), account("cccc")}

	batches := collect(t, New(15), seq(records...))
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Records, 2)
	assert.Equal(t, 15, batches[0].Size)
	assert.Len(t, batches[1].Records, 1)
	assert.Equal(t, "Name\ncccc\n", string(batches[1].Bytes()))
}

func TestBatches_HeaderGrowthCountsAgainstCeiling(t *testing.T) {
	first := account("a")
	second := record.NewBuilder("Account").
		Set("Name", record.String("b")).
		Set("Phone", record.String("1")).
		Build()

	// Alone the first batch is "Name\na\n" (7 bytes). Adding the second record
	// widens the header: "Name,Phone\na,\nb,1\n" is 18 bytes.
	batches := collect(t, New(17), seq(first, second))
	require.Len(t, batches, 2)

	batches = collect(t, New(18), seq(first, second))
	require.Len(t, batches, 1)
	assert.Equal(t, 18, batches[0].Size)
}

func TestBatches_OversizedRecord(t *testing.T) {
	big := account(strings.Repeat("x", 100))
	records := []record.Record{account("a"), big, account("b")}

	batches := collect(t, New(20), seq(records...))
	require.Len(t, batches, 3)

	assert.False(t, batches[0].Oversized)
	assert.True(t, batches[1].Oversized)
	assert.Len(t, batches[1].Records, 1)
	assert.True(t, big.Equal(batches[1].Records[0]))
	assert.Equal(t, len(batches[1].Bytes()), batches[1].Size)
	assert.False(t, batches[2].Oversized)
}

func TestBatches_ReferenceValueRejected(t *testing.T) {
	ref := record.NewReferenceMinter().Mint()
	records := []record.Record{
		account("a"),
		record.NewBuilder("Contact").Set("AccountId", record.Ref(ref)).Build(),
		account("never read"),
	}

	var batches []Batch
	var failure error
	for batch, err := range New(0).Batches(seq(records...)) {
		if err != nil {
			failure = err
			continue
		}
		batches = append(batches, batch)
	}

	require.Error(t, failure)
	assert.True(t, errors.IsValidation(failure))
	require.Len(t, batches, 1, "records read before the failure are still emitted")
	assert.Len(t, batches[0].Records, 1)
}

func TestBatches_SourceError(t *testing.T) {
	boom := fmt.Errorf("source closed")
	src := func(yield func(record.Record, error) bool) {
		if !yield(account("a"), nil) {
			return
		}
		yield(record.Record{}, boom)
	}

	var errs []error
	count := 0
	for _, err := range New(0).Batches(src) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, []error{boom}, errs)
}

func TestBatches_Lazy(t *testing.T) {
	read := 0
	src := func(yield func(record.Record, error) bool) {
		for i := 0; ; i++ {
			read++
			if !yield(account(fmt.Sprintf("%04d", i)), nil) {
				return
			}
		}
	}

	// Each batch holds two records: "Name\n0000\n0001\n" is 15 bytes.
	taken := 0
	for batch, err := range New(15).Batches(src) {
		require.NoError(t, err)
		assert.Len(t, batch.Records, 2)
		taken++
		if taken == 3 {
			break
		}
	}
	assert.Equal(t, 7, read, "the record that closed the third batch is the last one read")
}

func TestBatches_EmptySource(t *testing.T) {
	assert.Empty(t, collect(t, New(0), seq()))
}

func TestFieldSize(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"plain", "plain"},
		{"", ""},
		{"a,b", `"a,b"`},
		{`a"b`, `"a""b"`},
		{"a\rb", "\"a\rb\""},
		{" lead", `" lead"`},
		{"trail ", `"trail "`},
		{"in side", "in side"},
	}
	for _, tt := range tests {
		assert.Equal(t, len(tt.want), fieldSize(tt.field), tt.field)
		assert.Equal(t, tt.want != tt.field, needsQuoting(tt.field), tt.field)
	}
}
