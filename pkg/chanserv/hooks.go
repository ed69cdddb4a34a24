package chanserv

import (
	"errors"
	"strconv"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/network"
	"github.com/crystal-mush/gochanserv/pkg/registry"
	"github.com/rs/zerolog/log"
)

// RplChannelURL is the numeric carrying a channel's URL on join.
const RplChannelURL = 328

// HookSource is where the service registers its network hooks.
type HookSource interface {
	OnJoin(network.JoinHook)
	OnChannelAdd(network.ChannelAddHook)
	OnTopicSet(network.TopicHook)
}

// Attach registers the join, channel creation and topic hooks.
func (s *Service) Attach(h HookSource) {
	h.OnJoin(s.JoinEntryMsg)
	h.OnJoin(s.JoinURL)
	h.OnChannelAdd(s.EnforceMLock)
	h.OnChannelAdd(s.KeepTopicNewChannel)
	h.OnTopicSet(s.KeepTopicSet)
}

// JoinEntryMsg sends the channel's entry message to a joining user.
func (s *Service) JoinEntryMsg(u chandb.User, live network.Channel) {
	if u.Internal {
		return
	}
	ch, ok := s.reg.Channel(live.Name)
	if !ok {
		return
	}
	if msg, ok := ch.Meta(chandb.MetaEntryMsg); ok {
		s.net.Notice(s.Nick(), u.Nick, "["+ch.Name+"] "+msg)
	}
}

// JoinURL sends the channel's URL to a joining user as numeric 328.
func (s *Service) JoinURL(u chandb.User, live network.Channel) {
	if u.Internal {
		return
	}
	ch, ok := s.reg.Channel(live.Name)
	if !ok {
		return
	}
	if url, ok := ch.Meta(chandb.MetaURL); ok {
		s.net.Numeric(u.Nick, RplChannelURL, ch.Name, url)
	}
}

// EnforceMLock reapplies a registered channel's mode lock to the live
// channel. The uplink also calls it after user mode changes.
func (s *Service) EnforceMLock(live network.Channel) {
	ch, ok := s.reg.Channel(live.Name)
	if !ok || ch.MLock.Empty() {
		return
	}
	s.net.RecheckModes(s.Nick(), live.Name, ch.MLock)
}

// KeepTopicSet caches a channel's topic in its metadata. An unchanged
// topic is not rewritten; a cleared topic drops the cache.
func (s *Service) KeepTopicSet(live network.Channel) {
	err := s.reg.Update(live.Name, func(ch *chandb.Channel) error {
		if text, ok := ch.Meta(chandb.MetaTopicText); ok && live.Topic != "" && text == live.Topic {
			return errNoChange
		}
		removed := ch.DeleteMeta(chandb.MetaTopicText)
		removed = ch.DeleteMeta(chandb.MetaTopicSetter) || removed
		removed = ch.DeleteMeta(chandb.MetaTopicTS) || removed

		if live.Topic == "" || live.TopicSetter == "" {
			log.Debug().Str("component", "chanserv").Str("channel", live.Name).Msg("keeptopic: topic cleared")
			if !removed {
				return errNoChange
			}
			return nil
		}
		log.Debug().Str("component", "chanserv").Str("channel", live.Name).
			Str("setter", live.TopicSetter).Msg("keeptopic: topic cached")
		ch.SetMeta(chandb.MetaTopicSetter, live.TopicSetter)
		ch.SetMeta(chandb.MetaTopicText, live.Topic)
		ch.SetMeta(chandb.MetaTopicTS, strconv.FormatInt(live.TopicTS.Unix(), 10))
		return nil
	})
	switch {
	case err == nil, errors.Is(err, errNoChange), errors.Is(err, registry.ErrNoSuchChannel):
	default:
		log.Error().Err(err).Str("component", "chanserv").Str("channel", live.Name).Msg("keeptopic: caching topic")
	}
}

// KeepTopicNewChannel restores the cached topic when a KEEPTOPIC
// channel is recreated.
func (s *Service) KeepTopicNewChannel(live network.Channel) {
	ch, ok := s.reg.Channel(live.Name)
	if !ok || !ch.HasFlag(chandb.ChanKeepTopic) {
		return
	}
	setter, ok := ch.Meta(chandb.MetaTopicSetter)
	if !ok {
		return
	}
	text, ok := ch.Meta(chandb.MetaTopicText)
	if !ok {
		return
	}
	raw, ok := ch.Meta(chandb.MetaTopicTS)
	if !ok {
		return
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn().Str("component", "chanserv").Str("channel", ch.Name).Str("ts", raw).Msg("keeptopic: bad cached timestamp")
		return
	}
	s.net.ServiceTopic(s.Nick(), live.Name, setter, text, time.Unix(ts, 0))
}
